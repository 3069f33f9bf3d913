package operators

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/tensor"
)

func (r *Registry) registerMathOps() {
	r.Register("Add", handleBinary(layers.Add))
	r.Register("Sub", handleBinary(layers.Sub))
	r.Register("Mul", handleBinary(layers.Mul))
	r.Register("Div", handleBinary(layers.Div))
	r.Register("ReduceSum", handleReduceSum)
	r.Register("ReduceMean", handleReduce("mean"))
	r.Register("ReduceMax", handleReduce("max"))
	r.Register("ReduceMin", handleReduce("min"))
	r.Register("ReduceProd", handleReduce("mult"))
}

// handleBinary binds an initializer operand as the layer's constant. With
// two data operands the layer consumes both outputs of the previous node.
func handleBinary(op layers.BinaryOpKind) OpHandler {
	return func(ctx *Context, node *Node) (layers.Layer, error) {
		if len(node.Inputs) != 2 {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "%s %s: need 2 inputs, got %d", node.OpType, node.Name, len(node.Inputs))
		}
		a, aConst := ctx.Constant(node, 0)
		b, bConst := ctx.Constant(node, 1)
		switch {
		case aConst && bConst:
			return nil, unsupportedf("%s %s: both operands are constant", node.OpType, node.Name)
		case aConst:
			return layers.NewBinaryOpWithConstant(op, a, true), nil
		case bConst:
			return layers.NewBinaryOpWithConstant(op, b, false), nil
		default:
			return layers.NewBinaryOpLayer(op), nil
		}
	}
}

// reduceAxes reads axes from the attribute or, since opset 13/18, from
// the second input.
func reduceAxes(ctx *Context, node *Node) ([]int, error) {
	if node.HasAttr("axes") {
		return node.AttrInts("axes"), nil
	}
	t, ok := ctx.Constant(node, 1)
	if !ok {
		if len(node.Inputs) > 1 && node.Inputs[1] != "" {
			return nil, unsupportedf("%s %s: axes must be an initializer", node.OpType, node.Name)
		}
		return nil, nil
	}
	vals, err := t.Int32s()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: axes", node.OpType, node.Name)
	}
	axes := make([]int, len(vals))
	for i, v := range vals {
		axes[i] = int(v)
	}
	return axes, nil
}

func handleReduce(op string) OpHandler {
	return func(ctx *Context, node *Node) (layers.Layer, error) {
		axes, err := reduceAxes(ctx, node)
		if err != nil {
			return nil, err
		}
		return layers.NewReduceLayer(op, node.AttrInt("keepdims", 1) != 0, axes...)
	}
}

func handleReduceSum(ctx *Context, node *Node) (layers.Layer, error) {
	axes, err := reduceAxes(ctx, node)
	if err != nil {
		return nil, err
	}
	return layers.NewReduceSumLayer(node.AttrInt("keepdims", 1) != 0, axes...), nil
}
