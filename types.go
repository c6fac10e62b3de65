// Package cuteshm shares nested trees of numeric arrays between
// processes on one machine through POSIX shared memory. One process
// publishes a named project; any other process can list, reattach to,
// or unlink it by name. Each array lives in its own shared-memory
// segment, and a TOML catalog file per project records how to rebuild
// the original nesting.
//
// Published projects are immutable: concurrent reads need no
// coordination, and a caller that mutates array contents in place
// after publication must bring its own synchronization. An OS-level
// fault while writing segment memory (for example a bus error when
// the backing tmpfs runs out of space) terminates the process and is
// outside this package's error model.
package cuteshm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType tags the element type of an array. Tags match the names the
// catalog files store.
type DType string

const (
	Bool    DType = "bool"
	Int8    DType = "int8"
	Uint8   DType = "uint8"
	Int16   DType = "int16"
	Uint16  DType = "uint16"
	Int32   DType = "int32"
	Uint32  DType = "uint32"
	Int64   DType = "int64"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

var dtypeSizes = map[DType]int{
	Bool: 1, Int8: 1, Uint8: 1,
	Int16: 2, Uint16: 2,
	Int32: 4, Uint32: 4, Float32: 4,
	Int64: 8, Uint64: 8, Float64: 8,
}

// Size returns the element size in bytes, or 0 for an unknown tag.
func (d DType) Size() int { return dtypeSizes[d] }

// ParseDType validates a catalog dtype tag.
func ParseDType(s string) (DType, error) {
	d := DType(s)
	if d.Size() == 0 {
		return "", fmt.Errorf("unknown dtype %q", s)
	}
	return d, nil
}

// Array is a typed, contiguous, fixed-shape buffer: the unit the tree
// codec and the segment layer exchange. Data holds the raw elements in
// native (little-endian) byte order, row-major.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

func numElems(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}
		if d > 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		n *= d
	}
	return n, nil
}

// byteLen returns the byte length a dtype and shape require. Shapes
// come from catalog files written by other processes, so the element
// count and the final multiply are both bounded against overflow.
func byteLen(dtype DType, shape []int) (int, error) {
	size := dtype.Size()
	if size == 0 {
		return 0, fmt.Errorf("unknown dtype %q", dtype)
	}
	n, err := numElems(shape)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt/size {
		return 0, fmt.Errorf("dtype %s with shape %v overflows byte length", dtype, shape)
	}
	return n * size, nil
}

// NewArray builds an Array and checks that the byte length matches
// shape and element type.
func NewArray(dtype DType, shape []int, data []byte) (*Array, error) {
	want, err := byteLen(dtype, shape)
	if err != nil {
		return nil, err
	}
	if want != len(data) {
		return nil, fmt.Errorf("dtype %s with shape %v needs %d bytes, got %d",
			dtype, shape, want, len(data))
	}
	return &Array{DType: dtype, Shape: shape, Data: data}, nil
}

// NumBytes returns the byte length the shape and dtype require, or -1
// when the declaration is invalid.
func (a *Array) NumBytes() int {
	want, err := byteLen(a.DType, a.Shape)
	if err != nil {
		return -1
	}
	return want
}

// validate reports whether the array's declared shape and type agree
// with its actual byte length.
func (a *Array) validate() error {
	if a == nil {
		return fmt.Errorf("nil array")
	}
	want, err := byteLen(a.DType, a.Shape)
	if err != nil {
		return err
	}
	if want != len(a.Data) {
		return fmt.Errorf("dtype %s with shape %v needs %d bytes, got %d",
			a.DType, a.Shape, want, len(a.Data))
	}
	return nil
}

// Float64Array packs values into a float64 array of the given shape.
func Float64Array(shape []int, values []float64) (*Array, error) {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return NewArray(Float64, shape, data)
}

// Float32Array packs values into a float32 array of the given shape.
func Float32Array(shape []int, values []float32) (*Array, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return NewArray(Float32, shape, data)
}

// Int64Array packs values into an int64 array of the given shape.
func Int64Array(shape []int, values []int64) (*Array, error) {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}
	return NewArray(Int64, shape, data)
}

// Int32Array packs values into an int32 array of the given shape.
func Int32Array(shape []int, values []int32) (*Array, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return NewArray(Int32, shape, data)
}

// Float64s decodes the buffer as float64 elements.
func (a *Array) Float64s() []float64 {
	out := make([]float64, len(a.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out
}

// Float32s decodes the buffer as float32 elements.
func (a *Array) Float32s() []float32 {
	out := make([]float32, len(a.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out
}

// Int64s decodes the buffer as int64 elements.
func (a *Array) Int64s() []int64 {
	out := make([]int64, len(a.Data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out
}

// Int32s decodes the buffer as int32 elements.
func (a *Array) Int32s() []int32 {
	out := make([]int32, len(a.Data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out
}

// Attrs carries per-array metadata, e.g. attributes copied from a
// source dataset. Values are restricted to TOML scalars: string,
// int64, float64, or bool.
type Attrs map[string]any

func (at Attrs) validate() error {
	for k, v := range at {
		switch v.(type) {
		case string, int64, float64, bool:
		case int:
		default:
			return fmt.Errorf("attribute %q has unsupported type %T", k, v)
		}
	}
	return nil
}

// Node is one level of a nested array tree: either a *Leaf or a Tree.
// The two forms are distinct types, so a key can never hold both.
type Node interface {
	node()
}

// Tree is an ordered-by-key mapping of names to subtrees or leaves.
type Tree map[string]Node

// Leaf is one array plus its attributes.
type Leaf struct {
	Array *Array
	Attrs Attrs
}

func (Tree) node()  {}
func (*Leaf) node() {}

// ArrayMeta is the cataloged description of one shared array: enough
// to reattach to its segment and rebuild the typed view.
type ArrayMeta struct {
	SHMName string
	DType   DType
	Shape   []int
	Attrs   Attrs
}

// NumBytes returns the byte length the recorded shape and dtype
// require, or -1 when the declaration is invalid.
func (m ArrayMeta) NumBytes() int {
	want, err := byteLen(m.DType, m.Shape)
	if err != nil {
		return -1
	}
	return want
}
