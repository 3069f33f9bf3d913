// Package tensor is the public API for the engine's tensors.
//
// A Tensor is a dense row-major array of float32 or int32 values with a
// Shape and an optional bias vector carried alongside convolution and
// dense weights.
//
// Example:
//
//	x, err := tensor.Make([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	if err != nil {
//	    return err
//	}
//	v, _ := tensor.Get[float32](x, 1, 0) // 3
package tensor

import (
	"github.com/itlab-ai/infer/internal/tensor"
)

// Element is the constraint for tensor element types: float32 or int32.
type Element = tensor.Element

// DataType is the runtime element type tag of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Undefined DataType = tensor.Undefined
	Float32   DataType = tensor.Float32
	Int32     DataType = tensor.Int32
)

// Shape lists tensor dimensions. Shape{} is a scalar-less empty shape.
type Shape = tensor.Shape

// Tensor is a dense array with a shape, a data type and an optional bias.
type Tensor = tensor.Tensor

// Errors returned by tensors, kernels and the graph. Match with errors.Is.
var (
	ErrInvalidArgument = tensor.ErrInvalidArgument
	ErrShapeMismatch   = tensor.ErrShapeMismatch
	ErrAxisOutOfRange  = tensor.ErrAxisOutOfRange
	ErrTypeMismatch    = tensor.ErrTypeMismatch
	ErrUnsupportedType = tensor.ErrUnsupportedType
	ErrIndex           = tensor.ErrIndex
)

// NewShape validates dims and returns them as a Shape.
func NewShape(dims ...int) (Shape, error) {
	return tensor.NewShape(dims...)
}

// ParseDataType maps "float32" or "int32" to a DataType.
func ParseDataType(s string) DataType {
	return tensor.ParseDataType(s)
}

// Make copies values into a new tensor of the given shape.
func Make[T Element](values []T, shape Shape) (*Tensor, error) {
	return tensor.Make(values, shape)
}

// MakeWithBias is Make with a bias vector.
func MakeWithBias[T Element](values []T, shape Shape, bias []T) (*Tensor, error) {
	return tensor.MakeWithBias(values, shape, bias)
}

// FromVector returns a 1-D tensor holding a copy of values.
func FromVector[T Element](values []T) *Tensor {
	return tensor.FromVector(values)
}

// Zeros returns a zero-filled tensor.
func Zeros(shape Shape, dtype DataType) (*Tensor, error) {
	return tensor.Zeros(shape, dtype)
}

// Data returns the typed values of t.
func Data[T Element](t *Tensor) ([]T, error) {
	return tensor.Data[T](t)
}

// Get returns the element at coords.
func Get[T Element](t *Tensor, coords ...int) (T, error) {
	return tensor.Get[T](t, coords...)
}

// Set stores value at coords.
func Set[T Element](t *Tensor, value T, coords ...int) error {
	return tensor.Set(t, value, coords...)
}
