package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/tensor"
)

func TestBinaryOp_Broadcast(t *testing.T) {
	a := mustMake(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	row := mustMake(t, []float32{10, 20, 30}, tensor.Shape{3})
	col := mustMake(t, []float32{1, 2}, tensor.Shape{2, 1})

	out := runOne(t, NewBinaryOpLayer(Add), a, row)
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, floats(t, out))

	out = runOne(t, NewMulLayer(), a, col)
	assert.Equal(t, []float32{1, 2, 3, 8, 10, 12}, floats(t, out))

	out = runOne(t, NewBinaryOpLayer(Sub), row, col)
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, []float32{9, 19, 29, 8, 18, 28}, floats(t, out))
}

func TestBinaryOp_Commutative(t *testing.T) {
	shapes := [][2]tensor.Shape{
		{{2, 3}, {2, 3}},
		{{2, 3}, {3}},
		{{4, 1, 3}, {2, 1}},
		{{1}, {2, 2}},
		{{}, {3}},
		{{1, 1}, {3, 2}},
	}
	for _, pair := range shapes {
		a := mustMake(t, ramp(pair[0].NumElements()), pair[0])
		b := mustMake(t, ramp(pair[1].NumElements()), pair[1])
		for _, op := range []BinaryOpKind{Mul, Add} {
			ab, err := Apply(op, a, b)
			require.NoError(t, err)
			ba, err := Apply(op, b, a)
			require.NoError(t, err)
			assert.True(t, ab.Equal(ba), "%s %v %v", op, pair[0], pair[1])
		}
	}
}

func TestBinaryOp_ScalarKeepsOrder(t *testing.T) {
	scalar := mustMake(t, []int32{10}, tensor.Shape{1})
	vec := tensor.FromVector([]int32{1, 2, 3})

	out := runOne(t, NewBinaryOpLayer(Sub), scalar, vec)
	assert.Equal(t, []int32{9, 8, 7}, ints(t, out))

	out = runOne(t, NewBinaryOpLayer(Sub), vec, scalar)
	assert.Equal(t, []int32{-9, -8, -7}, ints(t, out))
}

func TestBinaryOp_Constant(t *testing.T) {
	c := tensor.FromVector([]float32{2})
	in := tensor.FromVector([]float32{1, 4})

	out := runOne(t, NewBinaryOpWithConstant(Div, c, false), in)
	assert.Equal(t, []float32{0.5, 2}, floats(t, out))

	out = runOne(t, NewBinaryOpWithConstant(Div, c, true), in)
	assert.Equal(t, []float32{2, 0.5}, floats(t, out))
}

func TestBinaryOp_Errors(t *testing.T) {
	a := mustMake(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustMake(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})

	_, err := NewMulLayer().Run([]*tensor.Tensor{a, b})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = NewMulLayer().Run([]*tensor.Tensor{a, tensor.FromVector([]int32{1})})
	require.ErrorIs(t, err, tensor.ErrTypeMismatch)

	_, err = NewMulLayer().Run([]*tensor.Tensor{a})
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, err = Apply(Div, tensor.FromVector([]int32{4}), tensor.FromVector([]int32{0}))
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)

	_, err = ParseBinaryOp("pow")
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}
