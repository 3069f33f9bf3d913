package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/nn"
	"github.com/itlab-ai/infer/tensor"
)

func TestChain_DenseRelu(t *testing.T) {
	w, err := tensor.Make([]float32{2, 1, -1, -2}, tensor.Shape{2, 2})
	require.NoError(t, err)
	dense := nn.NewDense(w, tensor.FromVector([]float32{0, 1}))
	relu, err := nn.NewActivation("relu")
	require.NoError(t, err)
	dense.AddPostOp(relu)
	out := nn.NewOutput("pos", "neg")

	x := tensor.FromVector([]float32{1, 1})
	g, err := nn.Chain([]nn.Layer{dense, out}, []*tensor.Tensor{x}, nn.WithStatistics())
	require.NoError(t, err)
	require.NoError(t, g.Inference())

	// W·[1 1] = [3 -3], + b = [3 -2], relu = [3 0]
	got, err := tensor.Data[float32](g.Outputs()[0])
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0}, got)

	stats := g.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "FullyConnected", stats[0].Type.String())

	labels, _, err := out.TopK(g.Outputs()[0], 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos"}, labels)
}

func TestGraph_Manual(t *testing.T) {
	in, err := nn.NewInput(nn.NCHW, nn.NCHW, 1, 2)
	require.NoError(t, err)
	relu, err := nn.NewActivation("relu")
	require.NoError(t, err)
	out := nn.NewOutput()

	g, err := nn.NewGraph(3)
	require.NoError(t, err)
	require.NoError(t, g.SetInput(in, tensor.FromVector([]float32{-3, 5})))
	require.NoError(t, g.MakeConnection(in, relu))
	require.NoError(t, g.MakeConnection(relu, out))
	require.NoError(t, g.SetOutput(out, nil))
	assert.True(t, g.AreLayerNext(in, relu))
	assert.False(t, g.AreLayerNext(relu, in))

	require.NoError(t, g.Inference())
	got, err := tensor.Data[float32](g.Outputs()[0])
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2}, got)
}
