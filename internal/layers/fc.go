package layers

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// FCLayer is a fully connected layer: out = W·x + b.
//
// Weights have shape [out, in] and bias has shape [out]. A rank-1 input
// must have exactly in elements; a higher-rank input is treated as a batch
// of rows over its last axis and yields [..., out].
type FCLayer struct {
	Base
	Weights *tensor.Tensor
	Bias    *tensor.Tensor
}

// NewFCLayer creates a fully connected layer.
func NewFCLayer(weights, bias *tensor.Tensor) *FCLayer {
	return &FCLayer{Base: Base{name: "fc"}, Weights: weights, Bias: bias}
}

// Type implements Layer.
func (l *FCLayer) Type() LayerType { return FullyConnected }

// Run implements Layer.
func (l *FCLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(FullyConnected, inputs)
	if err != nil {
		return nil, err
	}
	if l.Weights == nil || l.Weights.NumElements() == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "fully connected weights are empty")
	}
	if l.Bias == nil || l.Bias.NumElements() == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "fully connected bias is empty")
	}
	ws := l.Weights.Shape()
	if len(ws) != 2 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "fully connected weights must be 2D [out,in], got %v", ws)
	}
	outSize, inSize := ws[0], ws[1]
	if l.Bias.NumElements() != outSize {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "bias has %d elements, weights produce %d", l.Bias.NumElements(), outSize)
	}
	if in.DType() != tensor.Float32 && in.DType() != tensor.Int32 {
		return nil, unsupported(FullyConnected, in.DType())
	}
	if l.Weights.DType() != in.DType() || l.Bias.DType() != in.DType() {
		return nil, errors.Wrapf(tensor.ErrTypeMismatch, "fully connected parameters are %s/%s, input is %s",
			l.Weights.DType(), l.Bias.DType(), in.DType())
	}

	is := in.Shape()
	if len(is) == 0 || is[len(is)-1] != inSize {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "fully connected input %v does not end in %d", is, inSize)
	}
	outShape := is.Clone()
	outShape[len(outShape)-1] = outSize

	switch in.DType() {
	case tensor.Float32:
		return one(fullyConnected[float32](in, l.Weights, l.Bias, inSize, outSize, outShape), nil)
	default:
		return one(fullyConnected[int32](in, l.Weights, l.Bias, inSize, outSize, outShape), nil)
	}
}

func fullyConnected[T tensor.Element](in, weights, bias *tensor.Tensor, inSize, outSize int, outShape tensor.Shape) *tensor.Tensor {
	x := mustData[T](in)
	w := mustData[T](weights)
	b := mustData[T](bias)

	rows := len(x) / inSize
	out := make([]T, rows*outSize)
	for r := 0; r < rows; r++ {
		xr := x[r*inSize : (r+1)*inSize]
		for o := 0; o < outSize; o++ {
			wr := w[o*inSize : (o+1)*inSize]
			sum := b[o]
			for i, v := range xr {
				sum += wr[i] * v
			}
			out[r*outSize+o] = sum
		}
	}
	return own(out, outShape)
}
