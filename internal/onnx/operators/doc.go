// Package operators maps ONNX operator types to engine layers.
package operators
