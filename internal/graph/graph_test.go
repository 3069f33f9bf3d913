package graph

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

func uniform(t *testing.T, shape tensor.Shape, v float32) *tensor.Tensor {
	t.Helper()
	values := make([]float32, shape.NumElements())
	for i := range values {
		values[i] = v
	}
	out, err := tensor.Make(values, shape)
	require.NoError(t, err)
	return out
}

func newInput(t *testing.T) *layers.InputLayer {
	t.Helper()
	in, err := layers.NewInputLayer(layers.NHWC, layers.NCHW, 0, 1)
	require.NoError(t, err)
	return in
}

func TestNew_NegativeCapacity(t *testing.T) {
	_, err := New(-1)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func TestInference_ConvolutionChain(t *testing.T) {
	input := uniform(t, tensor.Shape{1, 5, 5, 3}, 3)
	kernel := uniform(t, tensor.Shape{3, 3}, 1)

	in := newInput(t)
	conv := layers.NewConvolutionLayer(1, 0, 0, kernel, nil, parallel.Sequential)
	out := layers.NewOutputLayer()

	g, err := New(3)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, input))
	require.NoError(t, g.MakeConnection(in, conv))
	require.NoError(t, g.MakeConnection(conv, out))

	var result tensor.Tensor
	require.NoError(t, g.SetOutput(out, &result))
	require.NoError(t, g.Inference())

	assert.True(t, result.Shape().Equal(tensor.Shape{1, 3, 3, 3}))
	data, err := result.Float32s()
	require.NoError(t, err)
	for _, v := range data {
		assert.Equal(t, float32(27), v)
	}
	require.Len(t, g.Outputs(), 1)
	assert.True(t, g.Outputs()[0].Equal(&result))
}

func TestInference_PostOps(t *testing.T) {
	input := tensor.FromVector([]float32{-1, 2})
	weights, err := tensor.Make([]float32{1, 0, 0, 1}, tensor.Shape{2, 2})
	require.NoError(t, err)
	fc := layers.NewFCLayer(weights, tensor.FromVector([]float32{0, 0}))

	relu, err := layers.NewActivation(layers.FuncReLU)
	require.NoError(t, err)
	fc.AddPostOp(relu)
	double, err := layers.NewEWLayer(layers.FuncLinear, 2, 0)
	require.NoError(t, err)
	fc.AddPostOp(double)

	out := layers.NewOutputLayer()
	g, err := New(2)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(fc, input))
	require.NoError(t, g.MakeConnection(fc, out))
	require.NoError(t, g.SetOutput(out, nil))
	require.NoError(t, g.Inference())

	data, err := g.Outputs()[0].Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 4}, data)
}

func TestInference_ShortestPathOnly(t *testing.T) {
	// in -> a -> b -> out and a shortcut in -> c -> out. Only the shortcut
	// runs, so a and b must never see input.
	input := tensor.FromVector([]float32{1, 2, 3})
	in := layers.NewOutputLayer()
	a, err := layers.NewActivation(layers.FuncMinus)
	require.NoError(t, err)
	b, err := layers.NewActivation(layers.FuncMinus)
	require.NoError(t, err)
	c, err := layers.NewEWLayer(layers.FuncLinear, 10, 0)
	require.NoError(t, err)
	out := layers.NewOutputLayer()

	g, err := New(0)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, input))
	require.NoError(t, g.MakeConnection(in, a))
	require.NoError(t, g.MakeConnection(a, b))
	require.NoError(t, g.MakeConnection(in, c))
	require.NoError(t, g.MakeConnection(b, out))
	require.NoError(t, g.MakeConnection(c, out))
	require.NoError(t, g.SetOutput(out, nil))

	path, err := g.Path()
	require.NoError(t, err)
	cID, _ := g.ID(c)
	outID, _ := g.ID(out)
	assert.Equal(t, []int{0, cID, outID}, path)

	require.NoError(t, g.Inference())
	data, err := g.Outputs()[0].Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 20, 30}, data)
}

func TestInference_UnreachableOutput(t *testing.T) {
	in := newInput(t)
	a := layers.NewOutputLayer()
	b := layers.NewFlattenLayer()
	out := layers.NewOutputLayer()

	g, err := New(4)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, uniform(t, tensor.Shape{1, 1, 1, 1}, 1)))
	require.NoError(t, g.MakeConnection(in, a))
	require.NoError(t, g.MakeConnection(a, b))
	// out only has an edge leading away from it.
	g.register(out)
	require.NoError(t, g.MakeConnection(out, b))

	before := tensor.FromVector([]int32{7})
	sink := before.Clone()
	require.NoError(t, g.SetOutput(out, sink))

	err = g.Inference()
	require.ErrorIs(t, err, ErrUnreachableOutput)
	assert.True(t, sink.Equal(before), "sink must be left untouched")
	assert.Nil(t, g.Outputs())
}

func TestMakeConnection_Errors(t *testing.T) {
	in := newInput(t)
	other := layers.NewOutputLayer()

	g, err := New(2)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, uniform(t, tensor.Shape{1, 1, 1, 1}, 1)))

	err = g.MakeConnection(in, in)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	err = g.MakeConnection(other, in)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	err = g.SetOutput(other, nil)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func TestAreLayerNext(t *testing.T) {
	in := newInput(t)
	a := layers.NewOutputLayer()
	b := layers.NewOutputLayer()

	g, err := New(3)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, uniform(t, tensor.Shape{1, 1, 1, 1}, 1)))
	require.NoError(t, g.MakeConnection(in, a))
	require.NoError(t, g.MakeConnection(a, b))
	require.NoError(t, g.MakeConnection(a, b))

	assert.True(t, g.AreLayerNext(in, a))
	assert.True(t, g.AreLayerNext(a, b))
	assert.False(t, g.AreLayerNext(b, a))
	assert.False(t, g.AreLayerNext(in, b))
	assert.Equal(t, 3, g.Len())

	id, ok := g.ID(b)
	require.True(t, ok)
	assert.Equal(t, 2, id)
	assert.Len(t, g.edges[1], 1, "duplicate edge ignored")
}

func TestSetInput_MustBeFirst(t *testing.T) {
	in := newInput(t)
	a := layers.NewOutputLayer()
	x := uniform(t, tensor.Shape{1, 1, 1, 1}, 1)

	g, err := New(2)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, x))
	require.NoError(t, g.MakeConnection(in, a))

	require.ErrorIs(t, g.SetInput(a, x), tensor.ErrInvalidArgument)
	require.NoError(t, g.SetInput(in, x), "rebinding the input layer is allowed")
	require.ErrorIs(t, g.SetInput(in), tensor.ErrInvalidArgument)
}

func TestInference_LayerErrorIsWrapped(t *testing.T) {
	in := layers.NewOutputLayer()
	pool, err := layers.NewPoolingLayer(tensor.Shape{2, 2}, "max", parallel.Sequential)
	require.NoError(t, err)

	g, err := New(2)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, tensor.FromVector([]float32{1})))
	require.NoError(t, g.MakeConnection(in, pool))
	require.NoError(t, g.SetOutput(pool, nil))

	err = g.Inference()
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "Pooling")
}

func TestInference_StatisticsAndLogging(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	in := newInput(t)
	flat := layers.NewFlattenLayer()

	g, err := New(2, WithLogger(log), WithStatistics())
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, uniform(t, tensor.Shape{1, 2, 2, 1}, 1)))
	require.NoError(t, g.MakeConnection(in, flat))
	require.NoError(t, g.SetOutput(flat, nil))
	require.NoError(t, g.Inference())

	stats := g.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, layers.Input, stats[0].Type)
	assert.Equal(t, "flatten", stats[1].Name)
	assert.True(t, stats[1].Outputs[0].Shape().Equal(tensor.Shape{4}))
	assert.Contains(t, buf.String(), "inference path")
}
