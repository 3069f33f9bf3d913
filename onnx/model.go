package onnx

import (
	"github.com/itlab-ai/infer/internal/onnx"
	"github.com/itlab-ai/infer/tensor"
)

// Model is an imported ONNX model ready for inference.
type Model interface {
	// Forward runs the model's layer chain on input and returns the
	// graph output.
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)

	// TopK runs Forward and returns the k best labels and their scores.
	TopK(input *tensor.Tensor, k int) ([]string, *tensor.Tensor, error)

	// InputNames returns the name of the model input.
	InputNames() []string

	// OutputNames returns the name of the model output.
	OutputNames() []string

	// OpsetVersion returns the default-domain opset the model was
	// exported with.
	OpsetVersion() int64

	// Metadata returns producer information and metadata_props.
	Metadata() map[string]string
}

type model struct {
	m *onnx.Model
}

func (w *model) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	g, err := w.m.Graph(input)
	if err != nil {
		return nil, err
	}
	if err := g.Inference(); err != nil {
		return nil, err
	}
	return g.Outputs()[0], nil
}

func (w *model) TopK(input *tensor.Tensor, k int) ([]string, *tensor.Tensor, error) {
	out, err := w.Forward(input)
	if err != nil {
		return nil, nil, err
	}
	return w.m.Output.TopK(out, k)
}

func (w *model) InputNames() []string { return []string{w.m.InputName} }

func (w *model) OutputNames() []string { return []string{w.m.OutputName} }

func (w *model) OpsetVersion() int64 { return w.m.Opset }

func (w *model) Metadata() map[string]string { return w.m.Metadata() }
