// Package nn exposes the engine's layers and the graph that runs them.
//
// Layers are built directly from weight tensors and wired into a Graph.
// Inference walks the shortest path from the input layer to the output
// layer and applies each layer's post-ops to its results.
//
// Example:
//
//	conv := nn.NewConvolution(1, 0, 0, kernel, nil, nn.Sequential)
//	relu, _ := nn.NewActivation("relu")
//	conv.AddPostOp(relu)
//	out := nn.NewOutput("cat", "dog")
//
//	g, err := nn.Chain([]nn.Layer{conv, nn.NewFlatten(), fc, out}, []*tensor.Tensor{img})
//	if err != nil {
//	    return err
//	}
//	if err := g.Inference(); err != nil {
//	    return err
//	}
//	labels, scores, err := out.TopK(g.Outputs()[0], 5)
package nn
