// Package loader opens a model from a local path or a gs:// URI, detects
// whether it is a JSON weights export or an ONNX graph, and builds the
// layer chain for image classification.
//
// Example:
//
//	m, err := loader.Load(ctx, modelstore.New(log), "gs://models/alexnet.json", loader.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	g, err := m.Graph(img)
package loader
