package layers

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// ReduceOp is a reduction over a set of axes.
type ReduceOp int

// Reductions.
const (
	ReduceSumOp ReduceOp = iota
	ReduceMeanOp
	ReduceMultOp
	ReduceMaxOp
	ReduceMinOp
)

var reduceOpNames = map[string]ReduceOp{
	"sum":  ReduceSumOp,
	"mean": ReduceMeanOp,
	"mult": ReduceMultOp,
	"max":  ReduceMaxOp,
	"min":  ReduceMinOp,
}

func (op ReduceOp) String() string {
	for name, v := range reduceOpNames {
		if v == op {
			return name
		}
	}
	return "unknown"
}

// ParseReduceOp accepts sum, mean, mult, max or min.
func ParseReduceOp(s string) (ReduceOp, error) {
	op, ok := reduceOpNames[s]
	if !ok {
		return 0, errors.Wrapf(tensor.ErrInvalidArgument, "unknown reduce operation %q", s)
	}
	return op, nil
}

// ReduceLayer reduces its input over Axes (all axes when empty).
//
// Axes may be negative and are deduplicated. With KeepDims the reduced
// axes stay as size 1; otherwise they are removed, and a reduction over
// every axis yields shape [1] rather than a rank-0 tensor.
type ReduceLayer struct {
	Base
	Op       ReduceOp
	KeepDims bool
	Axes     []int
}

// NewReduceLayer creates a reduce layer.
func NewReduceLayer(op string, keepDims bool, axes ...int) (*ReduceLayer, error) {
	rop, err := ParseReduceOp(op)
	if err != nil {
		return nil, err
	}
	return &ReduceLayer{
		Base:     Base{name: "reduce_" + op},
		Op:       rop,
		KeepDims: keepDims,
		Axes:     append([]int(nil), axes...),
	}, nil
}

// Type implements Layer.
func (l *ReduceLayer) Type() LayerType { return Reduce }

// Run implements Layer.
func (l *ReduceLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Reduce, inputs)
	if err != nil {
		return nil, err
	}
	return one(reduceTensor(in, l.Op, l.KeepDims, l.Axes))
}

// ReduceSumLayer sums over axes. The axes come either from the layer or
// from an optional second Int32 input tensor, which takes precedence.
type ReduceSumLayer struct {
	Base
	KeepDims bool
	Axes     []int
}

// NewReduceSumLayer creates a reduce-sum layer.
func NewReduceSumLayer(keepDims bool, axes ...int) *ReduceSumLayer {
	return &ReduceSumLayer{
		Base:     Base{name: "reduce_sum"},
		KeepDims: keepDims,
		Axes:     append([]int(nil), axes...),
	}
}

// Type implements Layer.
func (l *ReduceSumLayer) Type() LayerType { return ReduceSum }

// Run implements Layer.
func (l *ReduceSumLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) == 0 || len(inputs) > 2 || inputs[0] == nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "ReduceSum expects 1 or 2 inputs, got %d", len(inputs))
	}
	axes := l.Axes
	if len(inputs) == 2 && inputs[1] != nil {
		at := inputs[1]
		if at.DType() != tensor.Int32 {
			return nil, errors.Wrapf(tensor.ErrTypeMismatch, "ReduceSum axes must be int32, got %s", at.DType())
		}
		raw := mustData[int32](at)
		axes = make([]int, len(raw))
		for i, a := range raw {
			axes[i] = int(a)
		}
	}
	return one(reduceTensor(inputs[0], ReduceSumOp, l.KeepDims, axes))
}

// normalizeAxes range-checks, sorts and deduplicates axes.
// An empty list selects every axis.
func normalizeAxes(axes []int, rank int) ([]int, error) {
	if len(axes) == 0 {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	seen := make(map[int]bool, len(axes))
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		n, err := tensor.NormalizeAxis(a, rank)
		if err != nil {
			return nil, err
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func reduceTensor(in *tensor.Tensor, op ReduceOp, keepDims bool, axes []int) (*tensor.Tensor, error) {
	if in.DType() != tensor.Float32 && in.DType() != tensor.Int32 {
		return nil, unsupported(Reduce, in.DType())
	}
	is := in.Shape()
	norm, err := normalizeAxes(axes, len(is))
	if err != nil {
		return nil, err
	}
	if in.NumElements() == 0 {
		return tensor.Make([]float32{0}, tensor.Shape{1})
	}

	reduced := make([]bool, len(is))
	kept := is.Clone()
	for _, a := range norm {
		reduced[a] = true
		kept[a] = 1
	}

	var outShape tensor.Shape
	if keepDims {
		outShape = kept.Clone()
	} else {
		for i, d := range is {
			if !reduced[i] {
				outShape = append(outShape, d)
			}
		}
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	switch in.DType() {
	case tensor.Float32:
		return reduce[float32](in, op, reduced, kept, outShape), nil
	default:
		return reduce[int32](in, op, reduced, kept, outShape), nil
	}
}

func reduce[T tensor.Element](in *tensor.Tensor, op ReduceOp, reduced []bool, kept, outShape tensor.Shape) *tensor.Tensor {
	src := mustData[T](in)
	is := in.Shape()
	outStrides := kept.Strides()

	n := kept.NumElements()
	out := make([]T, n)
	seen := make([]bool, n)
	if op == ReduceMultOp {
		for i := range out {
			out[i] = 1
		}
	}

	coords := make([]int, len(is))
	for _, v := range src {
		idx := 0
		for d, c := range coords {
			if !reduced[d] {
				idx += c * outStrides[d]
			}
		}
		switch op {
		case ReduceSumOp, ReduceMeanOp:
			out[idx] += v
		case ReduceMultOp:
			out[idx] *= v
		case ReduceMaxOp:
			if !seen[idx] || v > out[idx] {
				out[idx] = v
			}
		case ReduceMinOp:
			if !seen[idx] || v < out[idx] {
				out[idx] = v
			}
		}
		seen[idx] = true

		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < is[d] {
				break
			}
			coords[d] = 0
		}
	}

	if op == ReduceMeanOp {
		count := T(len(src) / n)
		for i := range out {
			out[i] /= count
		}
	}
	return own(out, outShape)
}
