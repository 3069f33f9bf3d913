package layers

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// ConcatLayer joins its inputs along Axis.
type ConcatLayer struct {
	Base
	Axis int
}

// NewConcatLayer creates a concat layer. Axis may be negative.
func NewConcatLayer(axis int) *ConcatLayer {
	return &ConcatLayer{Base: Base{name: "concat"}, Axis: axis}
}

// Type implements Layer.
func (l *ConcatLayer) Type() LayerType { return Concat }

// Run implements Layer.
func (l *ConcatLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "concat needs at least one input")
	}
	first := inputs[0]
	if first == nil {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "concat input 0 is nil")
	}
	if first.DType() != tensor.Float32 && first.DType() != tensor.Int32 {
		return nil, unsupported(Concat, first.DType())
	}
	fs := first.Shape()
	if len(fs) == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "cannot concatenate rank-0 tensors")
	}
	axis, err := tensor.NormalizeAxis(l.Axis, len(fs))
	if err != nil {
		return nil, err
	}
	if len(inputs) == 1 {
		return []*tensor.Tensor{first.Clone()}, nil
	}

	outShape := fs.Clone()
	outShape[axis] = 0
	for i, t := range inputs {
		if t == nil {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "concat input %d is nil", i)
		}
		if t.DType() != first.DType() {
			return nil, errors.Wrapf(tensor.ErrTypeMismatch, "concat input %d is %s, input 0 is %s", i, t.DType(), first.DType())
		}
		ts := t.Shape()
		if len(ts) != len(fs) {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "concat input %d has rank %d, want %d", i, len(ts), len(fs))
		}
		for d := range ts {
			if d != axis && ts[d] != fs[d] {
				return nil, errors.Wrapf(tensor.ErrShapeMismatch, "concat input %d shape %v disagrees with %v off axis %d", i, ts, fs, axis)
			}
		}
		outShape[axis] += ts[axis]
	}

	switch first.DType() {
	case tensor.Float32:
		return one(concat[float32](inputs, axis, outShape), nil)
	default:
		return one(concat[int32](inputs, axis, outShape), nil)
	}
}

// blockLayout splits a shape around axis into outer rows and inner blocks.
func blockLayout(s tensor.Shape, axis int) (outer, inner int) {
	outer, inner = 1, 1
	for _, d := range s[:axis] {
		outer *= d
	}
	for _, d := range s[axis+1:] {
		inner *= d
	}
	return outer, inner
}

func concat[T tensor.Element](inputs []*tensor.Tensor, axis int, outShape tensor.Shape) *tensor.Tensor {
	outer, inner := blockLayout(outShape, axis)
	out := make([]T, outShape.NumElements())
	rowLen := outShape[axis] * inner

	offset := 0
	for _, t := range inputs {
		src := mustData[T](t)
		block := t.Shape()[axis] * inner
		for o := 0; o < outer; o++ {
			copy(out[o*rowLen+offset:o*rowLen+offset+block], src[o*block:(o+1)*block])
		}
		offset += block
	}
	return own(out, outShape)
}

// SplitLayer cuts its input along Axis. Either Splits lists explicit part
// sizes that sum to the axis size, or NumOutputs requests equal parts with
// the last part absorbing the remainder. With Ceil set the equal parts are
// rounded up instead and the last part is the smaller one.
type SplitLayer struct {
	Base
	Axis       int
	Splits     []int
	NumOutputs int
	Ceil       bool
}

// NewSplitLayer creates a split layer with explicit part sizes.
func NewSplitLayer(axis int, splits ...int) *SplitLayer {
	return &SplitLayer{Base: Base{name: "split"}, Axis: axis, Splits: append([]int(nil), splits...)}
}

// NewEqualSplitLayer creates a split layer producing n parts.
func NewEqualSplitLayer(axis, n int) *SplitLayer {
	return &SplitLayer{Base: Base{name: "split"}, Axis: axis, NumOutputs: n}
}

// Type implements Layer.
func (l *SplitLayer) Type() LayerType { return Split }

// parts resolves the part sizes for an axis of the given size.
func (l *SplitLayer) parts(size int) ([]int, error) {
	if len(l.Splits) > 0 {
		total := 0
		for _, p := range l.Splits {
			if p <= 0 {
				return nil, errors.Wrapf(tensor.ErrInvalidArgument, "split sizes %v must be positive", l.Splits)
			}
			total += p
		}
		if total != size {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "split sizes %v sum to %d, axis has %d", l.Splits, total, size)
		}
		return l.Splits, nil
	}
	n := l.NumOutputs
	if n <= 0 || n > size {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "cannot split axis of size %d into %d parts", size, n)
	}
	chunk := size / n
	if l.Ceil {
		chunk = (size + n - 1) / n
	}
	parts := make([]int, n)
	for i := range parts {
		parts[i] = chunk
	}
	parts[n-1] = size - chunk*(n-1)
	if parts[n-1] <= 0 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "cannot split axis of size %d into %d parts of %d", size, n, chunk)
	}
	return parts, nil
}

// Run implements Layer.
func (l *SplitLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Split, inputs)
	if err != nil {
		return nil, err
	}
	if in.DType() != tensor.Float32 && in.DType() != tensor.Int32 {
		return nil, unsupported(Split, in.DType())
	}
	is := in.Shape()
	axis, err := tensor.NormalizeAxis(l.Axis, len(is))
	if err != nil {
		return nil, err
	}
	parts, err := l.parts(is[axis])
	if err != nil {
		return nil, err
	}

	switch in.DType() {
	case tensor.Float32:
		return split[float32](in, axis, parts), nil
	default:
		return split[int32](in, axis, parts), nil
	}
}

func split[T tensor.Element](in *tensor.Tensor, axis int, parts []int) []*tensor.Tensor {
	src := mustData[T](in)
	is := in.Shape()
	outer, inner := blockLayout(is, axis)
	rowLen := is[axis] * inner

	outs := make([]*tensor.Tensor, len(parts))
	offset := 0
	for i, p := range parts {
		block := p * inner
		dst := make([]T, outer*block)
		for o := 0; o < outer; o++ {
			copy(dst[o*block:(o+1)*block], src[o*rowLen+offset:o*rowLen+offset+block])
		}
		shape := is.Clone()
		shape[axis] = p
		outs[i] = own(dst, shape)
		offset += block
	}
	return outs
}

// TransposeLayer permutes axes. An empty Perm is the identity.
type TransposeLayer struct {
	Base
	Perm []int
}

// NewTransposeLayer creates a transpose layer.
func NewTransposeLayer(perm ...int) *TransposeLayer {
	return &TransposeLayer{Base: Base{name: "transpose"}, Perm: append([]int(nil), perm...)}
}

// Type implements Layer.
func (l *TransposeLayer) Type() LayerType { return Transpose }

// Run implements Layer.
func (l *TransposeLayer) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in, err := single(Transpose, inputs)
	if err != nil {
		return nil, err
	}
	return one(TransposeTensor(in, l.Perm))
}

// TransposeTensor permutes the axes of t so that output axis i is input axis perm[i].
func TransposeTensor(t *tensor.Tensor, perm []int) (*tensor.Tensor, error) {
	is := t.Shape()
	if len(perm) == 0 {
		perm = make([]int, len(is))
		for i := range perm {
			perm[i] = i
		}
	}
	if len(perm) != len(is) {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "permutation %v does not match rank %d", perm, len(is))
	}
	used := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || used[p] {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "invalid permutation %v", perm)
		}
		used[p] = true
	}

	switch t.DType() {
	case tensor.Float32:
		return transpose[float32](t, perm), nil
	case tensor.Int32:
		return transpose[int32](t, perm), nil
	default:
		return nil, unsupported(Transpose, t.DType())
	}
}

func transpose[T tensor.Element](t *tensor.Tensor, perm []int) *tensor.Tensor {
	src := mustData[T](t)
	is := t.Shape()
	inStrides := is.Strides()

	outShape := make(tensor.Shape, len(perm))
	strides := make([]int, len(perm))
	for i, p := range perm {
		outShape[i] = is[p]
		strides[i] = inStrides[p]
	}

	out := make([]T, len(src))
	coords := make([]int, len(perm))
	for i := range out {
		off := 0
		for d, c := range coords {
			off += c * strides[d]
		}
		out[i] = src[off]
		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < outShape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return own(out, outShape)
}
