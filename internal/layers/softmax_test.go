package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/tensor"
)

func TestSoftmax(t *testing.T) {
	out, err := Softmax([]float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.09003057, 0.24472847, 0.66524096}, out, 1e-6)

	// Large logits stay finite.
	out, err = Softmax([]float32{1000, 1000})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, out, 1e-6)

	_, err = Softmax(nil)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func TestSoftmaxBatch(t *testing.T) {
	out, err := SoftmaxBatch([]float32{0, 0, 5, 5}, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, out, 1e-6)

	_, err = SoftmaxBatch([]float32{1, 2, 3}, 2)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func TestSoftmaxLayer(t *testing.T) {
	in := mustMake(t, []float32{1, 1, 1, 1, 0, 0}, tensor.Shape{2, 3})
	out := runOne(t, NewSoftmaxLayer(), in)
	assert.True(t, out.Shape().Equal(in.Shape()))

	data := floats(t, out)
	var sum float32
	for _, v := range data[:3] {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)

	_, err := NewSoftmaxLayer().Run([]*tensor.Tensor{tensor.FromVector([]int32{1})})
	require.ErrorIs(t, err, tensor.ErrUnsupportedType)
}

func TestSoftmaxLayer_ChannelAxis(t *testing.T) {
	in := mustMake(t, []float32{0, 5, 0, 5}, tensor.Shape{1, 2, 1, 2})
	l := NewSoftmaxLayer()
	l.Axis = 1
	out := runOne(t, l, in)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, floats(t, out), 1e-6)

	in = mustMake(t, []float32{0, 1, 0, 3}, tensor.Shape{2, 2})
	l.Axis = 0
	out = runOne(t, l, in)
	assert.InDeltaSlice(t, []float32{0.5, 0.1192029, 0.5, 0.8807971}, floats(t, out), 1e-6)

	l.Axis = 1
	l.Coerce = true
	in = mustMake(t, []float32{0, 5, 0, 5}, tensor.Shape{1, 2, 1, 2})
	out = runOne(t, l, in)
	assert.InDeltaSlice(t, []float32{0.0033, 0.4967, 0.0033, 0.4967}, floats(t, out), 1e-4)

	l.Axis = 2
	l.Coerce = false
	in = mustMake(t, []float32{0, 1, 0, 3}, tensor.Shape{2, 2})
	_, err := l.Run([]*tensor.Tensor{in})
	require.ErrorIs(t, err, tensor.ErrAxisOutOfRange)
}

func TestTopK(t *testing.T) {
	in := tensor.FromVector([]int32{3, 9, 1, 9, 5})

	names, values, err := TopK(in, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, names)
	assert.Equal(t, []int32{9, 9, 5}, ints(t, values))

	names, _, err = TopK(in, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTopK_Errors(t *testing.T) {
	vec := tensor.FromVector([]float32{1, 2, 3})

	_, _, err := TopK(vec, 4, nil)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	matrix := mustMake(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	_, _, err = TopK(matrix, 1, nil)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, _, err = TopK(vec, 1, []string{"a"})
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}
