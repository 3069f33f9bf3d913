package layers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/tensor"
)

func TestEW_Float(t *testing.T) {
	in := tensor.FromVector([]float32{-2, 0, 1.5})

	tests := []struct {
		fn          string
		alpha, beta float32
		want        []float32
	}{
		{FuncReLU, 1, 0, []float32{0, 0, 1.5}},
		{FuncMinus, 1, 0, []float32{2, 0, -1.5}},
		{FuncLinear, 2, 1, []float32{-3, 1, 4}},
		{FuncTanh, 1, 0, []float32{float32(math.Tanh(-2)), 0, float32(math.Tanh(1.5))}},
		{FuncSin, 1, 0, []float32{float32(math.Sin(-2)), 0, float32(math.Sin(1.5))}},
		{FuncSigmoid, 1, 0, []float32{float32(1 / (1 + math.Exp(2))), 0.5, float32(1 / (1 + math.Exp(-1.5)))}},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			l, err := NewEWLayer(tt.fn, tt.alpha, tt.beta)
			require.NoError(t, err)
			out := runOne(t, l, in)
			assert.True(t, out.Shape().Equal(in.Shape()))
			assert.InDeltaSlice(t, tt.want, floats(t, out), 1e-6)
		})
	}
}

func TestEW_Int(t *testing.T) {
	in := tensor.FromVector([]int32{0, -100, 100, 1, -1})

	sigmoid, err := NewActivation(FuncSigmoid)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0, 1, 1, 0}, ints(t, runOne(t, sigmoid, in)))

	relu, err := NewActivation(FuncReLU)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 100, 1, 0}, ints(t, runOne(t, relu, in)))

	minus, err := NewActivation(FuncMinus)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 100, -100, -1, 1}, ints(t, runOne(t, minus, in)))
}

func TestEW_DoesNotMutateInput(t *testing.T) {
	in := tensor.FromVector([]float32{-1, 1})
	relu, err := NewActivation(FuncReLU)
	require.NoError(t, err)

	runOne(t, relu, in)
	assert.Equal(t, []float32{-1, 1}, floats(t, in))
}

func TestEW_UnknownFunction(t *testing.T) {
	_, err := NewEWLayer("softplus", 1, 0)
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}
