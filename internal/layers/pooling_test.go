package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

func TestPooling_4x4(t *testing.T) {
	in := mustMake(t, []float32{
		9, 8, 7, 6,
		5, 4, 3, 2,
		2, 3, 4, 5,
		6, 7, 8, 9,
	}, tensor.Shape{4, 4})

	tests := []struct {
		kind string
		want []float32
	}{
		{"average", []float32{6.5, 4.5, 4.5, 6.5}},
		{"max", []float32{9, 7, 7, 9}},
	}
	for _, tt := range tests {
		for _, impl := range []parallel.Strategy{parallel.Sequential, parallel.Parallel} {
			t.Run(tt.kind+"/"+impl.String(), func(t *testing.T) {
				l, err := NewPoolingLayer(tensor.Shape{2, 2}, tt.kind, impl)
				require.NoError(t, err)
				out := runOne(t, l, in)
				assert.True(t, out.Shape().Equal(tensor.Shape{2, 2}))
				assert.Equal(t, tt.want, floats(t, out))
			})
		}
	}
}

func TestPooling_PartialWindows(t *testing.T) {
	in := mustMake(t, []float32{
		9, 8, 7,
		5, 4, 3,
		2, 3, 4,
	}, tensor.Shape{3, 3})

	avg, err := NewPoolingLayer(tensor.Shape{2, 2}, "average", parallel.Sequential)
	require.NoError(t, err)
	out := runOne(t, avg, in)
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{6.5, 5, 2.5, 4}, floats(t, out))

	mx, err := NewPoolingLayer(tensor.Shape{2, 2}, "max", parallel.Sequential)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 7, 3, 4}, floats(t, runOne(t, mx, in)))
}

func TestPooling_OneDimensional(t *testing.T) {
	in := mustMake(t, []float32{9, 8, 7, 6, 5, 4, 3, 2}, tensor.Shape{8})
	l, err := NewPoolingLayer(tensor.Shape{9}, "average", parallel.Sequential)
	require.NoError(t, err)

	out := runOne(t, l, in)
	assert.True(t, out.Shape().Equal(tensor.Shape{1}))
	assert.Equal(t, []float32{5.5}, floats(t, out))
}

func TestPooling_IntAverageTruncates(t *testing.T) {
	in := mustMake(t, []int32{1, 2, 3, 5}, tensor.Shape{1, 1, 2, 2})
	l, err := NewPoolingLayer(tensor.Shape{2, 2}, "average", parallel.Sequential)
	require.NoError(t, err)

	out := runOne(t, l, in)
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 1, 1, 1}))
	assert.Equal(t, []int32{2}, ints(t, out))
}

func TestPooling_NCHWStrategiesAgree(t *testing.T) {
	in := mustMake(t, ramp(2*3*7*7), tensor.Shape{2, 3, 7, 7})
	for _, kind := range []string{"average", "max"} {
		seq, err := NewPoolingLayer(tensor.Shape{3, 2}, kind, parallel.Sequential)
		require.NoError(t, err)
		par, err := NewPoolingLayer(tensor.Shape{3, 2}, kind, parallel.Parallel)
		require.NoError(t, err)

		a := runOne(t, seq, in)
		b := runOne(t, par, in)
		assert.True(t, a.Shape().Equal(tensor.Shape{2, 3, 3, 4}))
		assert.True(t, a.Equal(b), kind)
	}
}

func TestPooling_Errors(t *testing.T) {
	_, err := NewPoolingLayer(tensor.Shape{2, 2}, "median", parallel.Sequential)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, err = NewPoolingLayer(tensor.Shape{2, 0}, "max", parallel.Sequential)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, err = NewPoolingLayer(tensor.Shape{2, 2, 2}, "max", parallel.Sequential)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	l, err := NewPoolingLayer(tensor.Shape{2, 2}, "max", parallel.Sequential)
	require.NoError(t, err)
	_, err = l.Run([]*tensor.Tensor{tensor.FromVector([]float32{1, 2, 3})})
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}
