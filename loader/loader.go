// Package loader opens image classification models by path or gs:// URI.
//
// JSON weight exports and ONNX graphs are both supported; the format is
// taken from the file extension or sniffed from the first bytes.
//
// Example:
//
//	m, err := loader.Load(ctx, "gs://models/alexnet.json", loader.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g, err := m.Graph(img)
package loader

import (
	"context"
	"io"

	"github.com/itlab-ai/infer/internal/loader"
	"github.com/itlab-ai/infer/internal/modelstore"
)

// Format is a model file format.
type Format = loader.Format

// Supported formats.
const (
	FormatUnknown Format = loader.FormatUnknown
	FormatJSON    Format = loader.FormatJSON
	FormatONNX    Format = loader.FormatONNX
)

// Options configures Load and Read.
type Options = loader.Options

// Model is a loaded layer chain taking NHWC image tensors.
type Model = loader.Model

// ErrChecksumMismatch reports model bytes that do not match Options.Checksum.
var ErrChecksumMismatch = loader.ErrChecksumMismatch

// DefaultOptions detects the format and rejects unknown ONNX operators.
func DefaultOptions() Options {
	return loader.DefaultOptions()
}

// Load opens uri, a local path or gs://bucket/object, and builds the model.
func Load(ctx context.Context, uri string, opts Options) (*Model, error) {
	return loader.Load(ctx, modelstore.New(opts.Log), uri, opts)
}

// Read builds a model from r. name is only used to detect the format.
func Read(r io.Reader, name string, opts Options) (*Model, error) {
	return loader.Read(r, name, opts)
}

// DetectFormat guesses a model's format from its name and first bytes.
func DetectFormat(name string, head []byte) Format {
	return loader.DetectFormat(name, head)
}
