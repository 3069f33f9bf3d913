// Package layers implements the numeric kernels of the inference engine.
//
// Every kernel is a Layer: it is constructed with its own parameters,
// validates the element type and shapes of its inputs eagerly, and
// allocates fresh output tensors. Inputs are never modified.
//
// Kernels dispatch on the tensor's DataType once and then run a generic
// implementation over the concretely typed slice:
//
//	conv := layers.NewConvolutionLayer(1, 0, 0, kernel, nil, parallel.Sequential)
//	out, err := conv.Run([]*tensor.Tensor{input})
package layers

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// LayerType identifies a node's kernel kind for diagnostics and model loading.
type LayerType int

// Layer kinds.
const (
	Input LayerType = iota
	Pooling
	Normalization
	Dropout
	ElementWise
	Convolution
	FullyConnected
	Flatten
	Concat
	Split
	Transpose
	Reduce
	ReduceSum
	BinaryOp
	Output
)

var layerTypeNames = [...]string{
	Input:          "Input",
	Pooling:        "Pooling",
	Normalization:  "Normalization",
	Dropout:        "Dropout",
	ElementWise:    "ElementWise",
	Convolution:    "Convolution",
	FullyConnected: "FullyConnected",
	Flatten:        "Flatten",
	Concat:         "Concat",
	Split:          "Split",
	Transpose:      "Transpose",
	Reduce:         "Reduce",
	ReduceSum:      "ReduceSum",
	BinaryOp:       "BinaryOp",
	Output:         "Output",
}

func (t LayerType) String() string {
	if t >= 0 && int(t) < len(layerTypeNames) {
		return layerTypeNames[t]
	}
	return fmt.Sprintf("LayerType(%d)", int(t))
}

// Layer is a graph node implementing one kernel.
type Layer interface {
	// Type returns the kernel kind.
	Type() LayerType

	// Name returns a display name used in logs and statistics.
	Name() string

	// Run executes the kernel. Most kernels take and return exactly one
	// tensor; Concat, Split, BinaryOp and ReduceSum work on lists.
	Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

	// PostOps returns layers fused onto this one. The graph runs them on
	// this layer's output, in order, instead of as separate nodes.
	PostOps() []Layer
}

// Base carries the state every layer shares: its display name and the
// post-op list. Concrete layers embed it.
type Base struct {
	name    string
	postOps []Layer
}

// Name returns the display name.
func (b *Base) Name() string {
	return b.name
}

// SetName changes the display name.
func (b *Base) SetName(name string) {
	b.name = name
}

// PostOps returns the fused layers.
func (b *Base) PostOps() []Layer {
	return b.postOps
}

// AddPostOp fuses l onto the layer.
func (b *Base) AddPostOp(l Layer) {
	b.postOps = append(b.postOps, l)
}

// single validates that exactly one input was passed and returns it.
func single(kind LayerType, inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "%s expects 1 input, got %d", kind, len(inputs))
	}
	if inputs[0] == nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "%s input is nil", kind)
	}
	return inputs[0], nil
}

// unsupported reports an element type no kernel handles.
func unsupported(kind LayerType, dt tensor.DataType) error {
	return errors.Wrapf(tensor.ErrUnsupportedType, "%s does not support %s tensors", kind, dt)
}

// one wraps a single output into the Run result list.
func one(t *tensor.Tensor, err error) ([]*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

// mustData returns the typed view of a tensor whose tag was already checked.
func mustData[T tensor.Element](t *tensor.Tensor) []T {
	data, err := tensor.Data[T](t)
	if err != nil {
		panic(err)
	}
	return data
}

// own wraps a kernel-allocated buffer. The kernel always sizes the buffer
// from the shape, so a failure here is a programming error.
func own[T tensor.Element](values []T, shape tensor.Shape) *tensor.Tensor {
	t, err := tensor.Own(values, shape)
	if err != nil {
		panic(err)
	}
	return t
}
