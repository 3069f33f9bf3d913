package loader

import (
	"bytes"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Format is a model file format.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatJSON
	FormatONNX
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatONNX:
		return "onnx"
	default:
		return "unknown"
	}
}

// ParseFormat accepts json, onnx or the empty string for auto-detection.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatUnknown, nil
	case "json":
		return FormatJSON, nil
	case "onnx":
		return FormatONNX, nil
	default:
		return FormatUnknown, errors.Wrapf(tensor.ErrInvalidArgument, "unknown model format %q", s)
	}
}

// DetectFormat guesses the format from the file name and, failing that,
// from the first bytes of the file. A JSON export starts with '['; an ONNX
// model starts with the ir_version field.
func DetectFormat(name string, head []byte) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".onnx":
		return FormatONNX
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		return FormatJSON
	case len(head) > 0 && head[0] == 0x08:
		return FormatONNX
	default:
		return FormatUnknown
	}
}
