// Package onnx imports ONNX models into the inference engine.
//
// Only linear chains are accepted: every node consumes the outputs of the
// node before it, and initializers supply weights and constants. Relu and
// other element-wise nodes are folded into the preceding layer by default.
//
// Example:
//
//	m, err := onnx.Load("lenet.onnx", onnx.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	labels, scores, err := m.TopK(input, 5)
package onnx

import (
	"os"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/onnx"
)

// Options configures import. See DefaultOptions.
type Options = onnx.Options

// DefaultOptions folds activations and rejects unknown operators.
func DefaultOptions() Options {
	return onnx.DefaultOptions()
}

// Load imports the ONNX model stored at path.
func Load(path string, opts Options) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	m, err := onnx.Load(f, opts)
	if err != nil {
		return nil, err
	}
	return &model{m: m}, nil
}

// Import imports an ONNX model from its serialized bytes.
func Import(data []byte, opts Options) (Model, error) {
	m, err := onnx.Import(data, opts)
	if err != nil {
		return nil, err
	}
	return &model{m: m}, nil
}

// SupportedOps lists the operator types the importer understands.
func SupportedOps() []string {
	return onnx.ListSupportedOps()
}
