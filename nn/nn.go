package nn

import (
	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/tensor"
)

// Layer is a graph node implementing one kernel.
type Layer = layers.Layer

// LayerType identifies a layer kind.
type LayerType = layers.LayerType

// Layout is the dimension order of a 4-D image tensor.
type Layout = layers.Layout

// Layouts.
const (
	NCHW Layout = layers.NCHW
	NHWC Layout = layers.NHWC
)

// Strategy selects how convolution and pooling split their work.
type Strategy = parallel.Strategy

// Strategies.
const (
	Sequential Strategy = parallel.Sequential
	Parallel   Strategy = parallel.Parallel
)

// Concrete layers.
type (
	Input       = layers.InputLayer
	Output      = layers.OutputLayer
	Convolution = layers.ConvolutionLayer
	Dense       = layers.FCLayer
	Pooling     = layers.PoolingLayer
	Activation  = layers.EWLayer
	Flatten     = layers.FlattenLayer
	DropOut     = layers.DropOutLayer
	BinaryOp    = layers.BinaryOpLayer
	Concat      = layers.ConcatLayer
	Split       = layers.SplitLayer
	Transpose   = layers.TransposeLayer
	Reduce      = layers.ReduceLayer
	ReduceSum   = layers.ReduceSumLayer
	Softmax     = layers.SoftmaxLayer
)

// NewInput converts inputs from one layout to another and normalizes
// them as (x - mean) / std.
func NewInput(from, to Layout, mean, std float32) (*Input, error) {
	return layers.NewInputLayer(from, to, mean, std)
}

// NewOutput creates the output layer with class labels.
func NewOutput(labels ...string) *Output {
	return layers.NewOutputLayer(labels...)
}

// NewConvolution creates a 2-D convolution over NCHW input. kernel is
// [out, in, kh, kw]; a nil bias uses the kernel's own bias, if any.
func NewConvolution(stride, padding, dilation int, kernel, bias *tensor.Tensor, impl Strategy) *Convolution {
	return layers.NewConvolutionLayer(stride, padding, dilation, kernel, bias, impl)
}

// NewDense creates a fully connected layer with weights [out, in].
func NewDense(weights, bias *tensor.Tensor) *Dense {
	return layers.NewFCLayer(weights, bias)
}

// NewPooling creates a non-overlapping pooling layer; kind is "max" or "average".
func NewPooling(shape tensor.Shape, kind string, impl Strategy) (*Pooling, error) {
	return layers.NewPoolingLayer(shape, kind, impl)
}

// NewActivation creates an element-wise layer such as relu, tanh or sigmoid.
func NewActivation(fn string) (*Activation, error) {
	return layers.NewActivation(fn)
}

// NewFlatten reshapes its input to one dimension after permuting it by order.
func NewFlatten(order ...int) *Flatten {
	return layers.NewFlattenLayer(order...)
}

// NewDropOut creates a dropout layer. A zero rate passes inputs through.
func NewDropOut(rate float64, seed uint64) (*DropOut, error) {
	return layers.NewDropOutLayer(rate, seed)
}

// NewConcat joins its inputs along axis.
func NewConcat(axis int) *Concat {
	return layers.NewConcatLayer(axis)
}

// NewSplit cuts its input along axis into parts of the given sizes.
func NewSplit(axis int, sizes ...int) *Split {
	return layers.NewSplitLayer(axis, sizes...)
}

// NewTranspose permutes dimensions.
func NewTranspose(perm ...int) *Transpose {
	return layers.NewTransposeLayer(perm...)
}

// NewReduce reduces along axes with op: sum, mean, max, min or mult.
func NewReduce(op string, keepDims bool, axes ...int) (*Reduce, error) {
	return layers.NewReduceLayer(op, keepDims, axes...)
}

// NewSoftmax normalizes its input into probabilities.
func NewSoftmax() *Softmax {
	return layers.NewSoftmaxLayer()
}

// TopK returns the k largest entries of t with their labels.
func TopK(t *tensor.Tensor, k int, labels []string) ([]string, *tensor.Tensor, error) {
	return layers.TopK(t, k, labels)
}
