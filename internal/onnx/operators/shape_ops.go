package operators

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Concat", handleConcat)
	r.Register("Split", handleSplit)
	r.Register("Transpose", handleTranspose)
	r.Register("Flatten", handleFlatten)
}

func handleConcat(_ *Context, node *Node) (layers.Layer, error) {
	if !node.HasAttr("axis") {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "concat %s: missing axis", node.Name)
	}
	return layers.NewConcatLayer(int(node.AttrInt("axis", 0))), nil
}

func handleSplit(ctx *Context, node *Node) (layers.Layer, error) {
	axis := int(node.AttrInt("axis", 0))
	splits := node.AttrInts("split")
	if t, ok := ctx.Constant(node, 1); ok {
		vals, err := t.Int32s()
		if err != nil {
			return nil, errors.Wrapf(err, "split %s: sizes", node.Name)
		}
		splits = make([]int, len(vals))
		for i, v := range vals {
			splits[i] = int(v)
		}
	}
	if len(splits) > 0 {
		if len(splits) != len(node.Outputs) {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "split %s: %d sizes for %d outputs", node.Name, len(splits), len(node.Outputs))
		}
		return layers.NewSplitLayer(axis, splits...), nil
	}
	// num_outputs (opset 18) rounds the parts up; older opsets need an
	// evenly divisible axis, where both roundings agree.
	l := layers.NewEqualSplitLayer(axis, int(node.AttrInt("num_outputs", int64(len(node.Outputs)))))
	l.Ceil = node.HasAttr("num_outputs")
	return l, nil
}

func handleTranspose(_ *Context, node *Node) (layers.Layer, error) {
	return layers.NewTransposeLayer(node.AttrInts("perm")...), nil
}

// handleFlatten produces ONNX's 2D [rows, cols] result. Axis 0 flattens
// into a vector.
func handleFlatten(_ *Context, node *Node) (layers.Layer, error) {
	axis := node.AttrInt("axis", 1)
	if axis < 0 {
		return nil, unsupportedf("flatten %s: negative axis %d", node.Name, axis)
	}
	l := layers.NewFlattenLayer()
	l.Axis = int(axis)
	return l, nil
}
