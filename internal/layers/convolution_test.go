package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

func filled[T tensor.Element](n int, v T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%7) - 3
	}
	return out
}

func TestOutputSize(t *testing.T) {
	tests := []struct {
		name                           string
		in, k, stride, padding, dilate int
		want                           int
	}{
		{"unpadded", 5, 3, 1, 0, 0, 3},
		{"padded same", 5, 3, 1, 1, 0, 5},
		{"strided", 5, 3, 2, 1, 0, 3},
		{"dilated", 7, 3, 1, 0, 1, 3},
		{"dilated padded strided", 10, 3, 2, 2, 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OutputSize(tt.in, tt.k, tt.stride, tt.padding, tt.dilate)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := OutputSize(2, 5, 1, 0, 0)
	assert.False(t, ok)
}

func TestConvolution_OnesKernelPerChannel(t *testing.T) {
	in := mustMake(t, filled[float32](75, 3), tensor.Shape{1, 3, 5, 5})
	kernel := mustMake(t, filled[float32](9, 1), tensor.Shape{3, 3})

	out := runOne(t, NewConvolutionLayer(1, 0, 0, kernel, nil, parallel.Sequential), in)
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 3, 3, 3}))
	for _, v := range floats(t, out) {
		assert.Equal(t, float32(27), v)
	}
}

func TestConvolution_PaddedSizeAndBorders(t *testing.T) {
	in := mustMake(t, filled[int32](25, 1), tensor.Shape{1, 1, 5, 5})
	kernel := mustMake(t, filled[int32](9, 1), tensor.Shape{3, 3})

	out := runOne(t, NewConvolutionLayer(1, 1, 0, kernel, nil, parallel.Sequential), in)
	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 5, 5}))

	data := ints(t, out)
	assert.Equal(t, int32(4), data[0], "corner")
	assert.Equal(t, int32(6), data[1], "edge")
	assert.Equal(t, int32(9), data[12], "center")
}

func TestConvolution_Dilation(t *testing.T) {
	// 7x7 ramp with a 3x3 kernel and one gap between taps: effective 5x5.
	values := make([]float32, 49)
	for i := range values {
		values[i] = float32(i)
	}
	in := mustMake(t, values, tensor.Shape{1, 1, 7, 7})
	kernel := mustMake(t, filled[float32](9, 1), tensor.Shape{3, 3})

	out := runOne(t, NewConvolutionLayer(1, 0, 1, kernel, nil, parallel.Sequential), in)
	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 3, 3}))

	// Taps of output (0,0): rows 0,2,4 x cols 0,2,4.
	var want float32
	for _, r := range []int{0, 2, 4} {
		for _, c := range []int{0, 2, 4} {
			want += float32(r*7 + c)
		}
	}
	assert.Equal(t, want, floats(t, out)[0])
}

func TestConvolution_FullKernelWithBias(t *testing.T) {
	// Two input channels of ones and twos; two output channels.
	in := mustMake(t, append(filled[float32](9, 1), filled[float32](9, 2)...), tensor.Shape{1, 2, 3, 3})
	kvals := append(filled[float32](8, 1), filled[float32](8, -1)...)
	kernel := mustMake(t, kvals, tensor.Shape{2, 2, 2, 2})
	bias := tensor.FromVector([]float32{0.5, 10})

	out := runOne(t, NewConvolutionLayer(1, 0, 0, kernel, bias, parallel.Sequential), in)
	require.True(t, out.Shape().Equal(tensor.Shape{1, 2, 2, 2}))

	data := floats(t, out)
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(4*1+4*2+0.5), data[i])
		assert.Equal(t, float32(-(4*1+4*2)+10), data[4+i])
	}
}

func TestConvolution_BiasFromKernel(t *testing.T) {
	in := mustMake(t, filled[float32](9, 1), tensor.Shape{1, 1, 3, 3})
	kernel, err := tensor.MakeWithBias(filled[float32](9, 1), tensor.Shape{3, 3}, []float32{-9})
	require.NoError(t, err)

	out := runOne(t, NewConvolutionLayer(1, 0, 0, kernel, nil, parallel.Sequential), in)
	assert.Equal(t, []float32{0}, floats(t, out))
}

func TestConvolution_StrategiesAgree(t *testing.T) {
	in := mustMake(t, ramp(2*3*9*9), tensor.Shape{2, 3, 9, 9})
	kernel := mustMake(t, ramp(4*3*3*3), tensor.Shape{4, 3, 3, 3})
	bias := tensor.FromVector([]float32{1, 2, 3, 4})

	seq := runOne(t, NewConvolutionLayer(2, 1, 1, kernel, bias, parallel.Sequential), in)
	par := runOne(t, NewConvolutionLayer(2, 1, 1, kernel, bias, parallel.Parallel), in)
	assert.True(t, seq.Equal(par))
}

func TestConvolution_Errors(t *testing.T) {
	in := mustMake(t, filled[float32](25, 1), tensor.Shape{1, 1, 5, 5})
	kernel := mustMake(t, filled[float32](9, 1), tensor.Shape{3, 3})
	intKernel := mustMake(t, filled[int32](9, 1), tensor.Shape{3, 3})
	bigKernel := mustMake(t, filled[float32](49, 1), tensor.Shape{7, 7})

	tests := []struct {
		name  string
		layer *ConvolutionLayer
		input *tensor.Tensor
		want  error
	}{
		{"zero stride", NewConvolutionLayer(0, 0, 0, kernel, nil, parallel.Sequential), in, tensor.ErrInvalidArgument},
		{"negative padding", NewConvolutionLayer(1, -1, 0, kernel, nil, parallel.Sequential), in, tensor.ErrInvalidArgument},
		{"negative dilation", NewConvolutionLayer(1, 0, -1, kernel, nil, parallel.Sequential), in, tensor.ErrInvalidArgument},
		{"kernel type", NewConvolutionLayer(1, 0, 0, intKernel, nil, parallel.Sequential), in, tensor.ErrTypeMismatch},
		{"kernel too large", NewConvolutionLayer(1, 0, 0, bigKernel, nil, parallel.Sequential), in, tensor.ErrShapeMismatch},
		{"rank 2 input", NewConvolutionLayer(1, 0, 0, kernel, nil, parallel.Sequential), kernel, tensor.ErrShapeMismatch},
		{"bias length", NewConvolutionLayer(1, 0, 0, kernel, tensor.FromVector([]float32{1, 2}), parallel.Sequential), in, tensor.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.layer.Run([]*tensor.Tensor{tt.input})
			require.ErrorIs(t, err, tt.want)
		})
	}
}
