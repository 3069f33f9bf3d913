package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/tensor"
)

func constants(t *testing.T, named map[string]*tensor.Tensor) *Context {
	t.Helper()
	return &Context{Constants: named}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, op := range []string{"Conv", "Gemm", "MatMul", "Relu", "Neg", "Add", "Div", "Transpose", "Identity"} {
		_, ok := r.Get(op)
		assert.True(t, ok, op)
	}
	_, ok := r.Get("UnknownOp")
	assert.False(t, ok)

	ops := r.SupportedOps()
	assert.IsIncreasing(t, ops)

	r.Register("Custom", func(_ *Context, _ *Node) (layers.Layer, error) {
		return layers.NewTransposeLayer(), nil
	})
	l, err := r.Convert(&Context{}, &Node{OpType: "Custom"})
	require.NoError(t, err)
	assert.Equal(t, layers.Transpose, l.Type())

	_, err = r.Convert(&Context{}, &Node{OpType: "Nope"})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestConv_Attributes(t *testing.T) {
	kernel, err := tensor.Make(make([]float32, 2*1*3*3), tensor.Shape{2, 1, 3, 3})
	require.NoError(t, err)
	ctx := constants(t, map[string]*tensor.Tensor{"W": kernel})

	node := &Node{
		OpType: "Conv",
		Inputs: []string{"X", "W"},
		Attributes: []Attribute{
			{Name: "strides", Ints: []int64{2, 2}},
			{Name: "pads", Ints: []int64{1, 1, 1, 1}},
			{Name: "dilations", Ints: []int64{2, 2}},
		},
	}
	l, err := handleConv(ctx, node)
	require.NoError(t, err)
	conv := l.(*layers.ConvolutionLayer)
	assert.Equal(t, 2, conv.Stride)
	assert.Equal(t, 1, conv.Padding)
	assert.Equal(t, 1, conv.Dilation)

	node.Attributes[1].Ints = []int64{1, 0, 1, 0}
	_, err = handleConv(ctx, node)
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = handleConv(&Context{}, node)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestGemm_ScalesAndTransposes(t *testing.T) {
	b, err := tensor.Make([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})
	require.NoError(t, err)
	c := tensor.FromVector([]float32{1})
	ctx := constants(t, map[string]*tensor.Tensor{"B": b, "C": c})

	node := &Node{
		OpType: "Gemm",
		Inputs: []string{"X", "B", "C"},
		Attributes: []Attribute{
			{Name: "alpha", F: 2},
			{Name: "beta", F: 3},
		},
	}
	l, err := handleGemm(ctx, node)
	require.NoError(t, err)
	fc := l.(*layers.FCLayer)

	assert.True(t, fc.Weights.Shape().Equal(tensor.Shape{2, 3}))
	weights, err := fc.Weights.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 6, 10, 4, 8, 12}, weights)
	bias, err := fc.Bias.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 3}, bias)

	node.Attributes = append(node.Attributes, Attribute{Name: "transA", I: 1})
	_, err = handleGemm(ctx, node)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestSplit_Sizes(t *testing.T) {
	ctx := constants(t, map[string]*tensor.Tensor{"S": tensor.FromVector([]int32{1, 3})})

	l, err := handleSplit(ctx, &Node{OpType: "Split", Inputs: []string{"X", "S"}, Outputs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, l.(*layers.SplitLayer).Splits)

	l, err = handleSplit(ctx, &Node{OpType: "Split", Inputs: []string{"X"}, Outputs: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, 3, l.(*layers.SplitLayer).NumOutputs)
	assert.False(t, l.(*layers.SplitLayer).Ceil)

	l, err = handleSplit(ctx, &Node{
		OpType:     "Split",
		Inputs:     []string{"X"},
		Outputs:    []string{"a", "b", "c"},
		Attributes: []Attribute{{Name: "num_outputs", I: 3}},
	})
	require.NoError(t, err)
	split := l.(*layers.SplitLayer)
	assert.True(t, split.Ceil)
	outs, err := split.Run([]*tensor.Tensor{tensor.FromVector([]int32{1, 2, 3, 4, 5, 6, 7})})
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Equal(t, tensor.Shape{1}, outs[2].Shape())

	_, err = handleSplit(ctx, &Node{OpType: "Split", Inputs: []string{"X", "S"}, Outputs: []string{"a"}})
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func TestNodeAttributes(t *testing.T) {
	n := &Node{Attributes: []Attribute{
		{Name: "axis", I: -1},
		{Name: "mode", S: []byte("constant")},
		{Name: "perm", Ints: []int64{0, 2, 1}},
	}}
	assert.True(t, n.HasAttr("axis"))
	assert.False(t, n.HasAttr("alpha"))
	assert.Equal(t, int64(-1), n.AttrInt("axis", 0))
	assert.Equal(t, int64(5), n.AttrInt("missing", 5))
	assert.Equal(t, "constant", n.AttrString("mode", ""))
	assert.Equal(t, []int{0, 2, 1}, n.AttrInts("perm"))
	assert.Nil(t, n.AttrInts("missing"))
	assert.InDelta(t, 0.5, n.AttrFloat("missing", 0.5), 1e-9)
}
