// Package onnx imports ONNX models as layer chains.
//
// The protobuf wire format is decoded with protowire into the small set of
// message types the importer needs. Import then walks the nodes in
// topological order and turns each one into a layer through the operator
// registry in package operators. Only models whose data flow is a single
// chain can be imported; weights must be stored as graph initializers.
//
// Example:
//
//	m, err := onnx.Import(data, onnx.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	g, err := m.Graph(input)
package onnx
