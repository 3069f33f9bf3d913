package layers

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// BinaryOpKind is an element-wise arithmetic operation on two tensors.
type BinaryOpKind int

// Binary operations.
const (
	Mul BinaryOpKind = iota
	Add
	Sub
	Div
)

func (k BinaryOpKind) String() string {
	switch k {
	case Mul:
		return "mul"
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Div:
		return "div"
	default:
		return "unknown"
	}
}

// ParseBinaryOp accepts mul, add, sub or div.
func ParseBinaryOp(s string) (BinaryOpKind, error) {
	switch s {
	case "mul":
		return Mul, nil
	case "add":
		return Add, nil
	case "sub":
		return Sub, nil
	case "div":
		return Div, nil
	default:
		return 0, errors.Wrapf(tensor.ErrInvalidArgument, "unknown binary operation %q", s)
	}
}

// BinaryOpLayer combines two tensors element-wise with NumPy-style broadcasting.
//
// With a Constant the layer takes a single input and uses the constant as the
// other operand (left operand when ConstantFirst is set). A single-element
// operand takes a scalar fast path; operand order is preserved either way.
type BinaryOpLayer struct {
	Base
	Op            BinaryOpKind
	Constant      *tensor.Tensor
	ConstantFirst bool
}

// NewBinaryOpLayer creates a two-input binary layer.
func NewBinaryOpLayer(op BinaryOpKind) *BinaryOpLayer {
	return &BinaryOpLayer{Base: Base{name: op.String()}, Op: op}
}

// NewMulLayer creates a two-input multiplication layer.
func NewMulLayer() *BinaryOpLayer {
	return NewBinaryOpLayer(Mul)
}

// NewBinaryOpWithConstant creates a one-input binary layer whose other operand is fixed.
func NewBinaryOpWithConstant(op BinaryOpKind, constant *tensor.Tensor, constantFirst bool) *BinaryOpLayer {
	l := NewBinaryOpLayer(op)
	l.Constant = constant
	l.ConstantFirst = constantFirst
	return l
}

// Type implements Layer.
func (l *BinaryOpLayer) Type() LayerType { return BinaryOp }

// Run implements Layer.
func (l *BinaryOpLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	var a, b *tensor.Tensor
	if l.Constant != nil {
		in, err := single(BinaryOp, inputs)
		if err != nil {
			return nil, err
		}
		a, b = in, l.Constant
		if l.ConstantFirst {
			a, b = b, a
		}
	} else {
		if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "%s expects 2 inputs, got %d", l.Op, len(inputs))
		}
		a, b = inputs[0], inputs[1]
	}
	return one(Apply(l.Op, a, b))
}

// Apply computes op(a, b) with broadcasting.
func Apply(op BinaryOpKind, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.DType() != b.DType() {
		return nil, errors.Wrapf(tensor.ErrTypeMismatch, "%s operands are %s and %s", op, a.DType(), b.DType())
	}
	outShape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}

	switch a.DType() {
	case tensor.Float32:
		return binary[float32](op, a, b, outShape)
	case tensor.Int32:
		if op == Div {
			for _, v := range mustData[int32](b) {
				if v == 0 {
					return nil, errors.Wrap(tensor.ErrInvalidArgument, "integer division by zero")
				}
			}
		}
		return binary[int32](op, a, b, outShape)
	default:
		return nil, unsupported(BinaryOp, a.DType())
	}
}

func combine[T tensor.Element](op BinaryOpKind, x, y T) T {
	switch op {
	case Mul:
		return x * y
	case Add:
		return x + y
	case Sub:
		return x - y
	default:
		return x / y
	}
}

func binary[T tensor.Element](op BinaryOpKind, a, b *tensor.Tensor, outShape tensor.Shape) (*tensor.Tensor, error) {
	x := mustData[T](a)
	y := mustData[T](b)
	n := outShape.NumElements()
	out := make([]T, n)

	switch {
	case len(x) == 1 && len(y) == n:
		for i, v := range y {
			out[i] = combine(op, x[0], v)
		}
	case len(y) == 1 && len(x) == n:
		for i, v := range x {
			out[i] = combine(op, v, y[0])
		}
	case a.Shape().Equal(b.Shape()):
		for i := range out {
			out[i] = combine(op, x[i], y[i])
		}
	default:
		as := tensor.BroadcastStrides(a.Shape(), outShape)
		bs := tensor.BroadcastStrides(b.Shape(), outShape)
		coords := make([]int, len(outShape))
		for i := range out {
			ai, bi := 0, 0
			for d, c := range coords {
				ai += c * as[d]
				bi += c * bs[d]
			}
			out[i] = combine(op, x[ai], y[bi])
			for d := len(coords) - 1; d >= 0; d-- {
				coords[d]++
				if coords[d] < outShape[d] {
					break
				}
				coords[d] = 0
			}
		}
	}
	return tensor.Own(out, outShape)
}
