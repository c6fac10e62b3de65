package dataset

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ohler55/ojg/oj"

	cuteshm "github.com/MPI-IS/cute-shm"
)

// JSONFile reads a hierarchical dataset document: nested JSON objects
// are groups, and an object carrying "dtype", "shape", and a base64
// "data" payload is a dataset. An optional "attrs" object of scalars
// travels with each dataset.
//
//	{
//	  "sensors": {
//	    "temperature": {
//	      "dtype": "float32",
//	      "shape": [100],
//	      "data": "<base64 of 400 bytes>",
//	      "attrs": {"unit": "celsius"}
//	    }
//	  }
//	}
type JSONFile struct {
	path string
}

// OpenJSON wraps a dataset document path. The file is parsed lazily on
// Walk.
func OpenJSON(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Walk implements Source.
func (f *JSONFile) Walk(fn func(path []string, ds Dataset) error) error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read dataset file %s: %w", f.path, err)
	}
	parsed, err := oj.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse dataset file %s: %w", f.path, err)
	}
	root, ok := parsed.(map[string]any)
	if !ok {
		return fmt.Errorf("dataset file %s: top level is not an object", f.path)
	}
	return walkGroup(nil, root, fn)
}

func walkGroup(prefix []string, group map[string]any, fn func(path []string, ds Dataset) error) error {
	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := append(append([]string{}, prefix...), k)
		obj, ok := group[k].(map[string]any)
		if !ok {
			return fmt.Errorf("dataset node %q is not an object", strings.Join(path, "/"))
		}
		if isDatasetObject(obj) {
			ds, err := parseDataset(obj)
			if err != nil {
				return fmt.Errorf("dataset %q: %w", strings.Join(path, "/"), err)
			}
			if err := fn(path, ds); err != nil {
				return err
			}
			continue
		}
		if err := walkGroup(path, obj, fn); err != nil {
			return err
		}
	}
	return nil
}

func isDatasetObject(obj map[string]any) bool {
	_, hasDType := obj["dtype"].(string)
	_, hasData := obj["data"].(string)
	return hasDType && hasData
}

func parseDataset(obj map[string]any) (Dataset, error) {
	dtype, err := cuteshm.ParseDType(obj["dtype"].(string))
	if err != nil {
		return Dataset{}, err
	}

	rawShape, ok := obj["shape"].([]any)
	if !ok {
		return Dataset{}, fmt.Errorf("missing shape")
	}
	shape := make([]int, len(rawShape))
	for i, v := range rawShape {
		d, ok := v.(int64)
		if !ok || d < 0 {
			return Dataset{}, fmt.Errorf("invalid shape entry %v", v)
		}
		shape[i] = int(d)
	}

	data, err := base64.StdEncoding.DecodeString(obj["data"].(string))
	if err != nil {
		return Dataset{}, fmt.Errorf("decode data payload: %w", err)
	}

	arr, err := cuteshm.NewArray(dtype, shape, data)
	if err != nil {
		return Dataset{}, err
	}

	var attrs cuteshm.Attrs
	if rawAttrs, ok := obj["attrs"]; ok {
		m, ok := rawAttrs.(map[string]any)
		if !ok {
			return Dataset{}, fmt.Errorf("attrs is not an object")
		}
		attrs = cuteshm.Attrs(m)
	}

	return Dataset{Array: arr, Attrs: attrs}, nil
}
