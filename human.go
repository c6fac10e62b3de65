package cuteshm

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

// BytesToHuman renders a byte count the way the catalog tooling
// displays sizes, e.g. "1.5 KB".
func BytesToHuman(n int64) string {
	if n <= 0 {
		return "0 bytes"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}
