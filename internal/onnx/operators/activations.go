package operators

import (
	"github.com/itlab-ai/infer/internal/layers"
)

func (r *Registry) registerActivations() {
	r.Register("Relu", activation(layers.FuncReLU))
	r.Register("Tanh", activation(layers.FuncTanh))
	r.Register("Sin", activation(layers.FuncSin))
	r.Register("Sigmoid", activation(layers.FuncSigmoid))
	r.Register("Neg", activation(layers.FuncMinus))
	r.Register("Softmax", handleSoftmax)
}

func activation(fn string) OpHandler {
	return func(_ *Context, _ *Node) (layers.Layer, error) {
		return layers.NewActivation(fn)
	}
}

// handleSoftmax maps both Softmax forms. Before opset 13 the input is
// coerced to 2D at axis (default 1); from 13 on a single axis (default -1)
// is normalized.
func handleSoftmax(ctx *Context, node *Node) (layers.Layer, error) {
	l := layers.NewSoftmaxLayer()
	if ctx.Opset > 0 && ctx.Opset < 13 {
		l.Axis = int(node.AttrInt("axis", 1))
		l.Coerce = true
		return l, nil
	}
	l.Axis = int(node.AttrInt("axis", -1))
	return l, nil
}
