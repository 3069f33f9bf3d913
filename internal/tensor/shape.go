package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Shape represents the dimensions of a tensor.
// A zero dimension is allowed and describes an empty tensor.
type Shape []int

// NewShape creates a shape from explicit dimensions.
// Negative dimensions are rejected.
func NewShape(dims ...int) (Shape, error) {
	s := Shape(dims).Clone()
	if _, err := s.checkedNumElements(); err != nil {
		return nil, err
	}
	return s, nil
}

// FilledShape returns a shape of the given rank with every dimension set to 1.
func FilledShape(rank int) Shape {
	s := make(Shape, rank)
	for i := range s {
		s[i] = 1
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1 // Scalar has 1 element
	for _, dim := range s {
		n *= dim
	}
	return n
}

// checkedNumElements is NumElements for shapes from outside the package.
// Negative dimensions and element counts that overflow int are rejected.
func (s Shape) checkedNumElements() (int, error) {
	n := 1
	for i, dim := range s {
		if dim < 0 {
			return 0, errors.Wrapf(ErrInvalidArgument, "dimension %d is negative (%d)", i, dim)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return 0, errors.Wrapf(ErrInvalidArgument, "shape %v has too many elements", s)
		}
		n *= dim
	}
	return n, nil
}

// At returns the dimension at position i.
func (s Shape) At(i int) (int, error) {
	if i < 0 || i >= len(s) {
		return 0, errors.Wrapf(ErrIndex, "shape index %d out of range for rank %d", i, len(s))
	}
	return s[i], nil
}

// Index flattens coordinates into a row-major offset.
func (s Shape) Index(coords ...int) (int, error) {
	if len(coords) != len(s) {
		return 0, errors.Wrapf(ErrIndex, "expected %d coordinates, got %d", len(s), len(coords))
	}
	offset := 0
	stride := 1
	for i := len(s) - 1; i >= 0; i-- {
		if coords[i] < 0 || coords[i] >= s[i] {
			return 0, errors.Wrapf(ErrIndex, "coordinate %d out of range for dimension %d (size %d)", coords[i], i, s[i])
		}
		offset += coords[i] * stride
		stride *= s[i]
	}
	return offset, nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Strides calculates row-major strides for the shape.
// stride[i] = product of all dimensions after i.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String formats the shape as [d0 d1 ...].
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = fmt.Sprint(dim)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// IsScalarLike reports whether the shape holds exactly one element
// (rank 0 or every dimension equal to 1).
func (s Shape) IsScalarLike() bool {
	for _, dim := range s {
		if dim != 1 {
			return false
		}
	}
	return true
}

// NormalizeAxis maps a possibly negative axis into [0, rank).
func NormalizeAxis(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return 0, errors.Wrapf(ErrAxisOutOfRange, "axis %d out of range [%d, %d]", axis, -rank, rank-1)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5)
//	(1, 5) + (3, 5) → (3, 5)
//	(3, 4) + (3, 5) → error
func BroadcastShapes(a, b Shape) (Shape, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := 1
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := 1
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
		case bDim == 1:
			result[maxLen-1-i] = aDim
		default:
			return nil, errors.Wrapf(ErrShapeMismatch, "shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, nil
}

// BroadcastStrides returns strides for reading a tensor of shape `from`
// as if it had the broadcast shape `to`. Broadcast dimensions get stride 0.
func BroadcastStrides(from, to Shape) []int {
	strides := make([]int, len(to))
	src := from.Strides()
	offset := len(to) - len(from)
	for i := range to {
		j := i - offset
		if j < 0 || from[j] == 1 {
			continue
		}
		strides[i] = src[j]
	}
	return strides
}
