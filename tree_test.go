package cuteshm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFloat32(t *testing.T, shape []int, values []float32) *Array {
	t.Helper()
	a, err := Float32Array(shape, values)
	require.NoError(t, err)
	return a
}

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	a, err := Int64Array([]int{3, 3}, []int64{12, 0, 0, 0, 10, 0, 0, 0, 0})
	require.NoError(t, err)
	b1 := mustFloat32(t, []int{4}, []float32{0, 23, 0, 89})
	b2 := mustFloat32(t, []int{2}, []float32{0.24, 74})

	tree := Tree{
		"a": &Leaf{Array: a, Attrs: Attrs{"unit": "m"}},
		"b": Tree{
			"b1": &Leaf{Array: b1},
			"b2": &Leaf{Array: b2},
		},
	}

	entries, err := flatten(tree)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a"}, entries[0].path)
	assert.Equal(t, []string{"b", "b1"}, entries[1].path)
	assert.Equal(t, []string{"b", "b2"}, entries[2].path)

	rebuilt, err := unflatten(entries)
	require.NoError(t, err)
	require.Len(t, rebuilt, 2)

	leafA, ok := rebuilt["a"].(*Leaf)
	require.True(t, ok)
	assert.Equal(t, a.Data, leafA.Array.Data)
	assert.Equal(t, Attrs{"unit": "m"}, leafA.Attrs)

	sub, ok := rebuilt["b"].(Tree)
	require.True(t, ok)
	require.Len(t, sub, 2)
	leafB1, ok := sub["b1"].(*Leaf)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 23, 0, 89}, leafB1.Array.Float32s())
}

func TestFlattenEmptyTree(t *testing.T) {
	entries, err := flatten(Tree{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	rebuilt, err := unflatten(entries)
	require.NoError(t, err)
	assert.Empty(t, rebuilt)
}

func TestFlattenRejectsShapeMismatch(t *testing.T) {
	bad := &Array{DType: Float64, Shape: []int{10}, Data: make([]byte, 8)}
	_, err := flatten(Tree{"x": &Leaf{Array: bad}})
	require.ErrorIs(t, err, ErrTreeStructure)
}

func TestFlattenRejectsNilLeaf(t *testing.T) {
	_, err := flatten(Tree{"x": &Leaf{}})
	require.ErrorIs(t, err, ErrTreeStructure)

	_, err = flatten(Tree{"x": nil})
	require.ErrorIs(t, err, ErrTreeStructure)
}

func TestFlattenRejectsBadAttrs(t *testing.T) {
	a := mustFloat32(t, []int{1}, []float32{1})
	_, err := flatten(Tree{"x": &Leaf{Array: a, Attrs: Attrs{"bad": []string{"no"}}}})
	require.ErrorIs(t, err, ErrTreeStructure)
}

func TestUnflattenRejectsDuplicatePath(t *testing.T) {
	a := mustFloat32(t, []int{1}, []float32{1})
	entries := []leafEntry{
		{path: []string{"x"}, leaf: &Leaf{Array: a}},
		{path: []string{"x"}, leaf: &Leaf{Array: a}},
	}
	_, err := unflatten(entries)
	require.ErrorIs(t, err, ErrTreeStructure)
}

func TestUnflattenRejectsLeafSubtreeConflict(t *testing.T) {
	a := mustFloat32(t, []int{1}, []float32{1})
	entries := []leafEntry{
		{path: []string{"x"}, leaf: &Leaf{Array: a}},
		{path: []string{"x", "y"}, leaf: &Leaf{Array: a}},
	}
	_, err := unflatten(entries)
	require.ErrorIs(t, err, ErrTreeStructure)
}

func TestArrayConstructors(t *testing.T) {
	a, err := Float64Array([]int{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 32, a.NumBytes())
	assert.Equal(t, []float64{1, 2, 3, 4}, a.Float64s())

	_, err = Float64Array([]int{3}, []float64{1})
	require.Error(t, err)

	i, err := Int32Array([]int{2}, []int32{-7, 9})
	require.NoError(t, err)
	assert.Equal(t, []int32{-7, 9}, i.Int32s())

	n, err := Int64Array([]int{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n.NumBytes())
}

func TestShapeOverflowRejected(t *testing.T) {
	huge := []int{1 << 31, 1 << 31, 1 << 31}
	_, err := NewArray(Float64, huge, nil)
	require.Error(t, err)

	meta := ArrayMeta{SHMName: "seg", DType: Float64, Shape: huge}
	assert.Equal(t, -1, meta.NumBytes())

	// element count fits in an int but the byte length does not
	meta.Shape = []int{math.MaxInt / 4}
	assert.Equal(t, -1, meta.NumBytes())
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType("float32")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Size())

	_, err = ParseDType("complex128")
	require.Error(t, err)
}
