package layers

import (
	"math"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Element-wise function names.
const (
	FuncReLU    = "relu"
	FuncTanh    = "tanh"
	FuncSin     = "sin"
	FuncMinus   = "minus"
	FuncLinear  = "linear"
	FuncSigmoid = "sigmoid"
)

// EWLayer applies a point-wise function to every element.
//
// Linear computes Alpha*x + Beta. On Int32 tensors the transcendental
// functions and linear are evaluated in float64 and rounded to the
// nearest integer, so sigmoid maps every integer to 0 or 1.
type EWLayer struct {
	Base
	Func  string
	Alpha float32
	Beta  float32

	f func(float64) float64
}

// NewEWLayer creates an element-wise layer. Unknown functions are rejected.
func NewEWLayer(fn string, alpha, beta float32) (*EWLayer, error) {
	l := &EWLayer{Base: Base{name: fn}, Func: fn, Alpha: alpha, Beta: beta}
	switch fn {
	case FuncReLU:
		l.f = func(x float64) float64 { return math.Max(x, 0) }
	case FuncTanh:
		l.f = math.Tanh
	case FuncSin:
		l.f = math.Sin
	case FuncMinus:
		l.f = func(x float64) float64 { return -x }
	case FuncLinear:
		a, b := float64(alpha), float64(beta)
		l.f = func(x float64) float64 { return a*x + b }
	case FuncSigmoid:
		l.f = func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	default:
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "unknown element-wise function %q", fn)
	}
	return l, nil
}

// NewActivation is NewEWLayer with the identity linear coefficients.
func NewActivation(fn string) (*EWLayer, error) {
	return NewEWLayer(fn, 1, 0)
}

// Type implements Layer.
func (l *EWLayer) Type() LayerType { return ElementWise }

// Run implements Layer.
func (l *EWLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(ElementWise, inputs)
	if err != nil {
		return nil, err
	}
	if l.f == nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "element-wise layer %q was not built with NewEWLayer", l.Func)
	}

	switch in.DType() {
	case tensor.Float32:
		src := mustData[float32](in)
		out := make([]float32, len(src))
		switch l.Func {
		case FuncReLU:
			for i, v := range src {
				out[i] = max(v, 0)
			}
		case FuncMinus:
			for i, v := range src {
				out[i] = -v
			}
		case FuncLinear:
			for i, v := range src {
				out[i] = l.Alpha*v + l.Beta
			}
		default:
			for i, v := range src {
				out[i] = float32(l.f(float64(v)))
			}
		}
		return one(own(out, in.Shape().Clone()), nil)
	case tensor.Int32:
		src := mustData[int32](in)
		out := make([]int32, len(src))
		switch l.Func {
		case FuncReLU:
			for i, v := range src {
				out[i] = max(v, 0)
			}
		case FuncMinus:
			for i, v := range src {
				out[i] = -v
			}
		default:
			for i, v := range src {
				out[i] = int32(math.Round(l.f(float64(v))))
			}
		}
		return one(own(out, in.Shape().Clone()), nil)
	default:
		return nil, unsupported(ElementWise, in.DType())
	}
}
