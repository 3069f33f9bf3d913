package layers

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Layout is the axis order of a 4D image batch.
type Layout int

// Image layouts.
const (
	NCHW Layout = iota
	NHWC
)

func (l Layout) String() string {
	if l == NHWC {
		return "NHWC"
	}
	return "NCHW"
}

// InputLayer converts the graph input into the engine's layout and
// normalizes it as (x - Mean) / Std.
type InputLayer struct {
	Base
	From, To Layout
	Mean     float32
	Std      float32
}

// NewInputLayer creates an input layer. Std must be non-zero.
func NewInputLayer(from, to Layout, mean, std float32) (*InputLayer, error) {
	if std == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "input std must be non-zero")
	}
	return &InputLayer{Base: Base{name: "input"}, From: from, To: to, Mean: mean, Std: std}, nil
}

// Type implements Layer.
func (l *InputLayer) Type() LayerType { return Input }

// Run implements Layer.
func (l *InputLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Input, inputs)
	if err != nil {
		return nil, err
	}
	if l.Std == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "input std must be non-zero")
	}

	t := in
	if l.From != l.To {
		if in.Rank() != 4 {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "layout conversion needs a 4D input, got %v", in.Shape())
		}
		perm := []int{0, 3, 1, 2}
		if l.From == NCHW {
			perm = []int{0, 2, 3, 1}
		}
		if t, err = TransposeTensor(in, perm); err != nil {
			return nil, err
		}
	} else {
		t = in.Clone()
	}

	if l.Mean == 0 && l.Std == 1 {
		return []*tensor.Tensor{t}, nil
	}
	switch t.DType() {
	case tensor.Float32:
		data := mustData[float32](t)
		for i, v := range data {
			data[i] = (v - l.Mean) / l.Std
		}
	case tensor.Int32:
		data := mustData[int32](t)
		mean, std := float64(l.Mean), float64(l.Std)
		for i, v := range data {
			data[i] = int32((float64(v) - mean) / std)
		}
	default:
		return nil, unsupported(Input, t.DType())
	}
	return []*tensor.Tensor{t}, nil
}

// FlattenLayer reshapes its input into a vector. A 4D input is first
// permuted by Order, so the flattened vector can follow a different axis
// order than the tensor's layout.
//
// A positive Axis produces a matrix instead: the axes before Axis form the
// rows and the remaining axes the columns.
type FlattenLayer struct {
	Base
	Order []int
	Axis  int
}

// NewFlattenLayer creates a flatten layer. An empty order is the identity.
func NewFlattenLayer(order ...int) *FlattenLayer {
	return &FlattenLayer{Base: Base{name: "flatten"}, Order: append([]int(nil), order...)}
}

// Type implements Layer.
func (l *FlattenLayer) Type() LayerType { return Flatten }

// Run implements Layer.
func (l *FlattenLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Flatten, inputs)
	if err != nil {
		return nil, err
	}
	if in.DType() != tensor.Float32 && in.DType() != tensor.Int32 {
		return nil, unsupported(Flatten, in.DType())
	}
	t := in
	if in.Rank() == 4 && len(l.Order) > 0 {
		if t, err = TransposeTensor(in, l.Order); err != nil {
			return nil, err
		}
	}
	if l.Axis <= 0 {
		return one(t.Reshape(tensor.Shape{t.NumElements()}))
	}
	if l.Axis > t.Rank() {
		return nil, errors.Wrapf(tensor.ErrAxisOutOfRange, "flatten axis %d for rank %d", l.Axis, t.Rank())
	}
	rows := tensor.Shape(t.Shape()[:l.Axis]).NumElements()
	return one(t.Reshape(tensor.Shape{rows, t.NumElements() / max(rows, 1)}))
}

// DropOutLayer zeroes each element with probability Rate. It does not
// rescale the survivors. Seed makes the mask reproducible.
type DropOutLayer struct {
	Base
	Rate float64
	Seed uint64
}

// NewDropOutLayer creates a dropout layer. Rate must lie in [0, 1].
func NewDropOutLayer(rate float64, seed uint64) (*DropOutLayer, error) {
	if rate < 0 || rate > 1 || math.IsNaN(rate) {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "dropout rate %v outside [0, 1]", rate)
	}
	return &DropOutLayer{Base: Base{name: "dropout"}, Rate: rate, Seed: seed}, nil
}

// Type implements Layer.
func (l *DropOutLayer) Type() LayerType { return Dropout }

// Run implements Layer.
func (l *DropOutLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Dropout, inputs)
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	if l.Rate == 0 {
		return []*tensor.Tensor{out}, nil
	}
	rng := rand.New(rand.NewPCG(l.Seed, l.Seed^0x9e3779b97f4a7c15))
	switch out.DType() {
	case tensor.Float32:
		dropMask(mustData[float32](out), l.Rate, rng)
	case tensor.Int32:
		dropMask(mustData[int32](out), l.Rate, rng)
	default:
		return nil, unsupported(Dropout, out.DType())
	}
	return []*tensor.Tensor{out}, nil
}

func dropMask[T tensor.Element](data []T, rate float64, rng *rand.Rand) {
	for i := range data {
		if rng.Float64() < rate {
			data[i] = 0
		}
	}
}

// OutputLayer passes its input through and carries the class labels used
// when reporting results.
type OutputLayer struct {
	Base
	Labels []string
}

// NewOutputLayer creates an output layer.
func NewOutputLayer(labels ...string) *OutputLayer {
	return &OutputLayer{Base: Base{name: "output"}, Labels: append([]string(nil), labels...)}
}

// Type implements Layer.
func (l *OutputLayer) Type() LayerType { return Output }

// Run implements Layer.
func (l *OutputLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "output layer got no inputs")
	}
	outs := make([]*tensor.Tensor, len(inputs))
	for i, t := range inputs {
		if t == nil {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "output input %d is nil", i)
		}
		outs[i] = t.Clone()
	}
	return outs, nil
}

// TopK returns the k largest entries of t with this layer's labels.
func (l *OutputLayer) TopK(t *tensor.Tensor, k int) ([]string, *tensor.Tensor, error) {
	return TopK(t, k, l.Labels)
}
