package tensor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Tensor is a shape-tagged, type-tagged, owned buffer of numeric elements.
//
// Exactly one of the typed buffers is in use, selected by the DataType tag.
// Typed access always goes through a checked view, so a buffer can never be
// read as the wrong element type. Tensors are values: Make and Clone copy,
// and kernels allocate fresh outputs instead of writing into their inputs.
type Tensor struct {
	shape  Shape
	dtype  DataType
	floats []float32
	ints   []int32

	// Optional secondary buffer used by layer builders that fold a bias
	// vector into the weights. Same element type as the values.
	biasFloats []float32
	biasInts   []int32
}

// Make creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
//
// Example:
//
//	t, err := tensor.Make([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
func Make[T Element](values []T, shape Shape) (*Tensor, error) {
	return MakeWithBias(values, shape, nil)
}

// MakeWithBias creates a tensor that also carries a bias vector.
func MakeWithBias[T Element](values []T, shape Shape, bias []T) (*Tensor, error) {
	n, err := shape.checkedNumElements()
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, errors.Wrapf(ErrInvalidArgument, "shape %v requires %d elements, but got %d",
			shape, n, len(values))
	}

	t := &Tensor{shape: shape.Clone(), dtype: DataTypeOf[T]()}
	switch v := any(values).(type) {
	case []float32:
		t.floats = append(make([]float32, 0, len(v)), v...)
		if len(bias) > 0 {
			t.biasFloats = append([]float32(nil), any(bias).([]float32)...)
		}
	case []int32:
		t.ints = append(make([]int32, 0, len(v)), v...)
		if len(bias) > 0 {
			t.biasInts = append([]int32(nil), any(bias).([]int32)...)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "element type %T", values)
	}
	return t, nil
}

// FromVector creates a 1-D tensor holding values.
func FromVector[T Element](values []T) *Tensor {
	t, err := Make(values, Shape{len(values)})
	if err != nil {
		// Unreachable: a 1-D shape always matches its own length.
		panic(err)
	}
	return t
}

// Zeros allocates a zero-filled tensor of the given shape and type.
func Zeros(shape Shape, dtype DataType) (*Tensor, error) {
	n, err := shape.checkedNumElements()
	if err != nil {
		return nil, err
	}
	t := &Tensor{shape: shape.Clone(), dtype: dtype}
	switch dtype {
	case Float32:
		t.floats = make([]float32, n)
	case Int32:
		t.ints = make([]int32, n)
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "cannot allocate %s tensor", dtype)
	}
	return t, nil
}

// wrap builds a tensor around an already-owned buffer without copying.
// Kernels use it for outputs they allocated themselves.
func wrap[T Element](values []T, shape Shape) *Tensor {
	t := &Tensor{shape: shape, dtype: DataTypeOf[T]()}
	switch v := any(values).(type) {
	case []float32:
		t.floats = v
	case []int32:
		t.ints = v
	}
	return t
}

// Own wraps a freshly allocated buffer as a tensor of the given shape.
// The caller must not retain values. Length is validated like Make.
func Own[T Element](values []T, shape Shape) (*Tensor, error) {
	n, err := shape.checkedNumElements()
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, errors.Wrapf(ErrInvalidArgument, "shape %v requires %d elements, but got %d",
			shape, n, len(values))
	}
	return wrap(values, shape.Clone()), nil
}

// Shape returns the tensor's shape. The returned slice must not be modified.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Data returns a typed view of the tensor's elements.
// Fails with ErrTypeMismatch if T does not match the tensor's tag.
//
// WARNING: the view aliases the tensor; modifying it modifies the tensor.
func Data[T Element](t *Tensor) ([]T, error) {
	if t.dtype != DataTypeOf[T]() {
		return nil, errors.Wrapf(ErrTypeMismatch, "tensor dtype is %s, not %s", t.dtype, DataTypeOf[T]())
	}
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(t.floats).([]T), nil
	default:
		return any(t.ints).([]T), nil
	}
}

// Float32s returns the float32 view of the tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	return Data[float32](t)
}

// Int32s returns the int32 view of the tensor.
func (t *Tensor) Int32s() ([]int32, error) {
	return Data[int32](t)
}

// Bias returns the bias vector, empty when none was attached.
func Bias[T Element](t *Tensor) ([]T, error) {
	if t.dtype != DataTypeOf[T]() {
		return nil, errors.Wrapf(ErrTypeMismatch, "tensor dtype is %s, not %s", t.dtype, DataTypeOf[T]())
	}
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(t.biasFloats).([]T), nil
	default:
		return any(t.biasInts).([]T), nil
	}
}

// HasBias reports whether a bias vector is attached.
func (t *Tensor) HasBias() bool {
	return len(t.biasFloats) > 0 || len(t.biasInts) > 0
}

// BiasTensor returns the bias vector as its own 1-D tensor, or nil.
func (t *Tensor) BiasTensor() *Tensor {
	switch {
	case len(t.biasFloats) > 0:
		return FromVector(t.biasFloats)
	case len(t.biasInts) > 0:
		return FromVector(t.biasInts)
	default:
		return nil
	}
}

// Get reads the element at the given coordinates.
func Get[T Element](t *Tensor, coords ...int) (T, error) {
	var zero T
	data, err := Data[T](t)
	if err != nil {
		return zero, err
	}
	idx, err := t.shape.Index(coords...)
	if err != nil {
		return zero, err
	}
	return data[idx], nil
}

// Set writes the element at the given coordinates.
func Set[T Element](t *Tensor, value T, coords ...int) error {
	data, err := Data[T](t)
	if err != nil {
		return err
	}
	idx, err := t.shape.Index(coords...)
	if err != nil {
		return err
	}
	data[idx] = value
	return nil
}

// Clone returns a deep copy of the tensor, bias included.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:      t.shape.Clone(),
		dtype:      t.dtype,
		floats:     cloneSlice(t.floats),
		ints:       cloneSlice(t.ints),
		biasFloats: cloneSlice(t.biasFloats),
		biasInts:   cloneSlice(t.biasInts),
	}
}

// Reshape returns a copy of the tensor with a new shape of the same element count.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	n, err := shape.checkedNumElements()
	if err != nil {
		return nil, err
	}
	if n != t.NumElements() {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot reshape %v (%d elements) to %v", t.shape, t.NumElements(), shape)
	}
	out := t.Clone()
	out.shape = shape.Clone()
	return out, nil
}

// Equal reports whether two tensors have the same tag, shape and elements.
func (t *Tensor) Equal(other *Tensor) bool {
	if t.dtype != other.dtype || !t.shape.Equal(other.shape) {
		return false
	}
	switch t.dtype {
	case Float32:
		return sliceEqual(t.floats, other.floats)
	case Int32:
		return sliceEqual(t.ints, other.ints)
	default:
		return true
	}
}

// String formats the tensor for debugging.
func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(%s, %v)", t.dtype, t.shape)
	const limit = 16
	switch t.dtype {
	case Float32:
		writeValues(&sb, t.floats, limit)
	case Int32:
		writeValues(&sb, t.ints, limit)
	}
	return sb.String()
}

func writeValues[T Element](sb *strings.Builder, values []T, limit int) {
	sb.WriteString(" [")
	for i, v := range values {
		if i == limit {
			sb.WriteString(" ...")
			break
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprint(sb, v)
	}
	sb.WriteByte(']')
}

func cloneSlice[T Element](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func sliceEqual[T Element](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
