package graph

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/tensor"
)

// Chain builds a linear graph ls[0] -> ls[1] -> ... -> ls[n-1], binds
// inputs to the first layer and makes the last layer the output.
// Model loaders produce this shape of graph.
func Chain(ls []layers.Layer, inputs []*tensor.Tensor, opts ...Option) (*Graph, error) {
	if len(ls) == 0 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "cannot build a graph without layers")
	}
	g, err := New(len(ls), opts...)
	if err != nil {
		return nil, err
	}
	if err := g.SetInput(ls[0], inputs...); err != nil {
		return nil, err
	}
	for i := 1; i < len(ls); i++ {
		if err := g.MakeConnection(ls[i-1], ls[i]); err != nil {
			return nil, errors.Wrapf(err, "connecting layer %d", i)
		}
	}
	if err := g.SetOutput(ls[len(ls)-1], nil); err != nil {
		return nil, err
	}
	return g, nil
}

// Rebind replaces the tensors fed to the input layer.
func (g *Graph) Rebind(inputs ...*tensor.Tensor) error {
	if len(g.nodes) == 0 {
		return errors.Wrap(tensor.ErrInvalidArgument, "graph has no input layer")
	}
	return g.SetInput(g.nodes[0], inputs...)
}
