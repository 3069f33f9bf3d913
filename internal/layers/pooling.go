package layers

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

// PoolKind selects the pooling reduction.
type PoolKind int

// Pooling reductions.
const (
	AveragePool PoolKind = iota
	MaxPool
)

func (k PoolKind) String() string {
	if k == MaxPool {
		return "max"
	}
	return "average"
}

// ParsePoolKind accepts "average" or "max".
func ParsePoolKind(s string) (PoolKind, error) {
	switch s {
	case "average":
		return AveragePool, nil
	case "max":
		return MaxPool, nil
	default:
		return 0, errors.Wrapf(tensor.ErrInvalidArgument, "pooling type must be \"average\" or \"max\", got %q", s)
	}
}

// PoolingLayer applies non-overlapping average or max pooling.
//
// The window covers the last two axes of the input (the only axis of a
// 1-D input). A one-dimensional pool shape on a higher-rank input pools
// rows only. Every pooled axis yields ceil(in/pool) outputs; trailing
// partial windows reduce only the in-bounds elements.
type PoolingLayer struct {
	Base
	Shape tensor.Shape
	Kind  PoolKind
	Impl  parallel.Strategy
}

// NewPoolingLayer validates the pool shape and type.
func NewPoolingLayer(shape tensor.Shape, kind string, impl parallel.Strategy) (*PoolingLayer, error) {
	k, err := ParsePoolKind(kind)
	if err != nil {
		return nil, err
	}
	if len(shape) == 0 || len(shape) > 2 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "pooling shape must have 1 or 2 dimensions, got %v", shape)
	}
	for _, d := range shape {
		if d < 1 {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "pooling shape %v has a non-positive dimension", shape)
		}
	}
	return &PoolingLayer{
		Base:  Base{name: k.String() + "_pool"},
		Shape: shape.Clone(),
		Kind:  k,
		Impl:  impl,
	}, nil
}

// Type implements Layer.
func (l *PoolingLayer) Type() LayerType { return Pooling }

type poolGeometry struct {
	outer  int
	h, w   int
	ph, pw int
	oh, ow int
}

// Run implements Layer.
func (l *PoolingLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Pooling, inputs)
	if err != nil {
		return nil, err
	}
	is := in.Shape()
	if len(is) == 0 || len(l.Shape) > len(is) {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "pooling shape %v does not fit input %v", l.Shape, is)
	}

	g := poolGeometry{outer: 1, w: 1, pw: 1, ph: l.Shape[0]}
	var outShape tensor.Shape
	if len(is) == 1 {
		g.h = is[0]
		g.oh, g.ow = ceilDiv(g.h, g.ph), 1
		outShape = tensor.Shape{g.oh}
	} else {
		r := len(is)
		for _, d := range is[:r-2] {
			g.outer *= d
		}
		g.h, g.w = is[r-2], is[r-1]
		if len(l.Shape) == 2 {
			g.pw = l.Shape[1]
		}
		g.oh, g.ow = ceilDiv(g.h, g.ph), ceilDiv(g.w, g.pw)
		outShape = append(is[:r-2].Clone(), g.oh, g.ow)
	}

	cfg := parallel.ConfigFor(l.Impl)
	switch in.DType() {
	case tensor.Float32:
		return one(pool[float32](in, l.Kind, g, outShape, cfg), nil)
	case tensor.Int32:
		return one(pool[int32](in, l.Kind, g, outShape, cfg), nil)
	default:
		return nil, unsupported(Pooling, in.DType())
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func pool[T tensor.Element](in *tensor.Tensor, kind PoolKind, g poolGeometry, outShape tensor.Shape, cfg parallel.Config) *tensor.Tensor {
	src := mustData[T](in)
	out := make([]T, g.outer*g.oh*g.ow)

	parallel.For(g.outer*g.oh, func(row int) {
		p, oy := row/g.oh, row%g.oh
		base := p * g.h * g.w
		y0, y1 := oy*g.ph, min(oy*g.ph+g.ph, g.h)
		for ox := 0; ox < g.ow; ox++ {
			x0, x1 := ox*g.pw, min(ox*g.pw+g.pw, g.w)
			var acc T
			if kind == MaxPool {
				acc = src[base+y0*g.w+x0]
			}
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					v := src[base+y*g.w+x]
					if kind == MaxPool {
						if v > acc {
							acc = v
						}
					} else {
						acc += v
					}
				}
			}
			if kind == AveragePool {
				acc /= T((y1 - y0) * (x1 - x0))
			}
			out[(p*g.oh+oy)*g.ow+ox] = acc
		}
	}, cfg)

	return own(out, outShape)
}
