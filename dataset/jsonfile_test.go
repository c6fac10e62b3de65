package dataset

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cuteshm "github.com/MPI-IS/cute-shm"
)

func float32Payload(values []float32) string {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(data)
}

func writeDatasetFile(t *testing.T, doc map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(oj.JSON(doc)), 0o600))
	return path
}

func sampleDoc() map[string]any {
	return map[string]any{
		"dataset1": map[string]any{
			"dtype": "float32",
			"shape": []any{4},
			"data":  float32Payload([]float32{1, 2, 3, 4}),
			"attrs": map[string]any{"unit": "celsius"},
		},
		"group1": map[string]any{
			"dataset2": map[string]any{
				"dtype": "float32",
				"shape": []any{2, 2},
				"data":  float32Payload([]float32{5, 6, 7, 8}),
			},
		},
	}
}

func TestJSONFileWalk(t *testing.T) {
	src := OpenJSON(writeDatasetFile(t, sampleDoc()))

	var paths []string
	err := src.Walk(func(path []string, ds Dataset) error {
		paths = append(paths, strings.Join(path, "/"))
		require.NotNil(t, ds.Array)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dataset1", "group1/dataset2"}, paths)

	total, count, err := TotalBytes(src)
	require.NoError(t, err)
	assert.Equal(t, int64(32), total)
	assert.Equal(t, 2, count)
}

func TestJSONFileBadPayload(t *testing.T) {
	doc := map[string]any{
		"broken": map[string]any{
			"dtype": "float32",
			"shape": []any{10},
			"data":  float32Payload([]float32{1}), // 4 bytes, needs 40
		},
	}
	src := OpenJSON(writeDatasetFile(t, doc))
	err := src.Walk(func([]string, Dataset) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestJSONFileUnknownDType(t *testing.T) {
	doc := map[string]any{
		"x": map[string]any{
			"dtype": "complex64",
			"shape": []any{1},
			"data":  float32Payload([]float32{1}),
		},
	}
	src := OpenJSON(writeDatasetFile(t, doc))
	err := src.Walk(func([]string, Dataset) error { return nil })
	require.Error(t, err)
}

func TestJSONFileMissing(t *testing.T) {
	src := OpenJSON(filepath.Join(t.TempDir(), "nope.json"))
	err := src.Walk(func([]string, Dataset) error { return nil })
	require.Error(t, err)
}

func TestTransferRoundTrip(t *testing.T) {
	m := cuteshm.New(cuteshm.WithRoot(t.TempDir()))
	project := "dstest-" + uuid.NewString()[:8]
	t.Cleanup(func() { _ = m.Unlink(project) })

	src := OpenJSON(writeDatasetFile(t, sampleDoc()))

	var last int64
	opts := TransferOptions{
		Persistent: true,
		Progress:   func(copied, total int64) { last = copied },
	}
	require.NoError(t, Transfer(m, project, src, opts))
	assert.Equal(t, int64(32), last)

	shared, err := m.Read(project)
	require.NoError(t, err)
	defer shared.Close()

	d1 := shared.Array("dataset1")
	require.NotNil(t, d1)
	assert.Equal(t, []float32{1, 2, 3, 4}, d1.Array.Float32s())
	assert.Equal(t, "celsius", d1.Meta.Attrs["unit"])

	d2 := shared.Array("group1", "dataset2")
	require.NotNil(t, d2)
	assert.Equal(t, []int{2, 2}, d2.Meta.Shape)
	assert.Equal(t, []float32{5, 6, 7, 8}, d2.Array.Float32s())
}

func TestWithTransferCleansUp(t *testing.T) {
	m := cuteshm.New(cuteshm.WithRoot(t.TempDir()))
	project := "dstest-" + uuid.NewString()[:8]

	src := OpenJSON(writeDatasetFile(t, sampleDoc()))

	ran := false
	err := WithTransfer(m, project, src, TransferOptions{}, func() error {
		ran = true
		shared, err := m.Read(project)
		if err != nil {
			return err
		}
		defer shared.Close()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	_, err = m.Read(project)
	require.ErrorIs(t, err, cuteshm.ErrCatalogNotFound)
}

func TestBuildTreeRejectsLeafCrossing(t *testing.T) {
	arr, err := cuteshm.Float32Array([]int{1}, []float32{1})
	require.NoError(t, err)

	src := &fakeSource{entries: []fakeEntry{
		{path: []string{"x"}, ds: Dataset{Array: arr}},
		{path: []string{"x", "y"}, ds: Dataset{Array: arr}},
	}}
	_, err = BuildTree(src)
	require.ErrorIs(t, err, cuteshm.ErrTreeStructure)
}

type fakeEntry struct {
	path []string
	ds   Dataset
}

type fakeSource struct {
	entries []fakeEntry
}

func (f *fakeSource) Walk(fn func(path []string, ds Dataset) error) error {
	for _, e := range f.entries {
		if err := fn(e.path, e.ds); err != nil {
			return err
		}
	}
	return nil
}
