package layers

import (
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Softmax normalizes vec into a probability distribution.
// The maximum is subtracted before exponentiation for stability.
func Softmax(vec []float32) ([]float32, error) {
	if len(vec) == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "softmax of an empty vector")
	}
	out := make([]float32, len(vec))
	softmaxInto(out, vec)
	return out, nil
}

// SoftmaxBatch applies Softmax to consecutive rows of length classes.
func SoftmaxBatch(vec []float32, classes int) ([]float32, error) {
	if classes <= 0 || len(vec) == 0 || len(vec)%classes != 0 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "cannot split %d values into rows of %d", len(vec), classes)
	}
	out := make([]float32, len(vec))
	for start := 0; start < len(vec); start += classes {
		softmaxInto(out[start:start+classes], vec[start:start+classes])
	}
	return out, nil
}

func softmaxInto(dst, src []float32) {
	maxVal := src[0]
	for _, v := range src[1:] {
		maxVal = max(maxVal, v)
	}
	var sum float64
	for i, v := range src {
		e := math.Exp(float64(v - maxVal))
		dst[i] = float32(e)
		sum += e
	}
	for i := range dst {
		dst[i] = float32(float64(dst[i]) / sum)
	}
}

// SoftmaxLayer applies Softmax along Axis of a float32 tensor. Axis may
// be negative and is resolved against the input rank; -1 is the last axis.
// With Coerce set, every axis from Axis on is normalized as one block.
// Model builders attach it as the post-op of the classifier layer.
type SoftmaxLayer struct {
	Base
	Axis   int
	Coerce bool
}

// NewSoftmaxLayer creates a softmax layer over the last axis.
func NewSoftmaxLayer() *SoftmaxLayer {
	return &SoftmaxLayer{Base: Base{name: "softmax"}, Axis: -1}
}

// Type implements Layer.
func (l *SoftmaxLayer) Type() LayerType { return ElementWise }

// Run implements Layer.
func (l *SoftmaxLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(ElementWise, inputs)
	if err != nil {
		return nil, err
	}
	if in.DType() != tensor.Float32 {
		return nil, unsupported(ElementWise, in.DType())
	}
	if in.Rank() == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "softmax needs at least one axis")
	}
	axis, err := tensor.NormalizeAxis(l.Axis, in.Rank())
	if err != nil {
		return nil, errors.Wrap(err, "softmax")
	}
	shape := in.Shape()
	if l.Coerce || axis == in.Rank()-1 {
		out, err := SoftmaxBatch(mustData[float32](in), tensor.Shape(shape[axis:]).NumElements())
		if err != nil {
			return nil, err
		}
		return one(tensor.Own(out, shape.Clone()))
	}

	dim := shape[axis]
	if dim == 0 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "softmax over empty axis %d of %v", axis, shape)
	}
	inner := tensor.Shape(shape[axis+1:]).NumElements()
	outer := tensor.Shape(shape[:axis]).NumElements()
	src := mustData[float32](in)
	out := make([]float32, len(src))
	col := make([]float32, dim)
	res := make([]float32, dim)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*dim*inner + i
			for k := range col {
				col[k] = src[base+k*inner]
			}
			softmaxInto(res, col)
			for k, v := range res {
				out[base+k*inner] = v
			}
		}
	}
	return one(tensor.Own(out, shape.Clone()))
}

// TopK returns the k largest elements of a 1-D tensor in descending order,
// together with their labels. Ties keep their original order. When labels
// is empty every element is labelled with its index.
func TopK(t *tensor.Tensor, k int, labels []string) ([]string, *tensor.Tensor, error) {
	if t.Rank() != 1 {
		return nil, nil, errors.Wrapf(tensor.ErrInvalidArgument, "top-k accepts only 1D tensors, got %v", t.Shape())
	}
	n := t.NumElements()
	if k < 0 || k > n {
		return nil, nil, errors.Wrapf(tensor.ErrInvalidArgument, "top-k: k=%d outside [0, %d]", k, n)
	}
	if len(labels) > 0 && len(labels) != n {
		return nil, nil, errors.Wrapf(tensor.ErrInvalidArgument, "top-k: %d labels for %d values", len(labels), n)
	}

	switch t.DType() {
	case tensor.Float32:
		return topK(mustData[float32](t), k, labels)
	case tensor.Int32:
		return topK(mustData[int32](t), k, labels)
	default:
		return nil, nil, unsupported(Output, t.DType())
	}
}

func topK[T tensor.Element](values []T, k int, labels []string) ([]string, *tensor.Tensor, error) {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] > values[idx[b]]
	})

	names := make([]string, k)
	top := make([]T, k)
	for i, j := range idx[:k] {
		if len(labels) > 0 {
			names[i] = labels[j]
		} else {
			names[i] = strconv.Itoa(j)
		}
		top[i] = values[j]
	}
	out, err := tensor.Own(top, tensor.Shape{k})
	if err != nil {
		return nil, nil, err
	}
	return names, out, nil
}
