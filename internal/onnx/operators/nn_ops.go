package operators

import (
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/tensor"
)

func (r *Registry) registerNNOps() {
	r.Register("Conv", handleConv)
	r.Register("MaxPool", handlePool("max"))
	r.Register("AveragePool", handlePool("average"))
	r.Register("GlobalAveragePool", handleGlobalPool)
	r.Register("Gemm", handleGemm)
	r.Register("MatMul", handleMatMul)
}

// uniform collapses a per-axis attribute into the single value the
// kernels take. Differing values are unsupported.
func uniform(node *Node, name string, def int) (int, error) {
	vals := node.AttrInts(name)
	if len(vals) == 0 {
		return def, nil
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return 0, unsupportedf("%s %s: non-uniform %s %v", node.OpType, node.Name, name, vals)
		}
	}
	return vals[0], nil
}

func handleConv(ctx *Context, node *Node) (layers.Layer, error) {
	w, ok := ctx.Constant(node, 1)
	if !ok {
		return nil, unsupportedf("conv %s: weights must be an initializer", node.Name)
	}
	if w.Rank() != 4 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "conv %s: weights must be 4D, got %v", node.Name, w.Shape())
	}
	var bias *tensor.Tensor
	if len(node.Inputs) > 2 && node.Inputs[2] != "" {
		if bias, ok = ctx.Constant(node, 2); !ok {
			return nil, unsupportedf("conv %s: bias must be an initializer", node.Name)
		}
	}
	if g := node.AttrInt("group", 1); g != 1 {
		return nil, unsupportedf("conv %s: group %d", node.Name, g)
	}
	switch pad := node.AttrString("auto_pad", "NOTSET"); pad {
	case "NOTSET", "VALID":
	default:
		return nil, unsupportedf("conv %s: auto_pad %s", node.Name, pad)
	}

	stride, err := uniform(node, "strides", 1)
	if err != nil {
		return nil, err
	}
	padding, err := uniform(node, "pads", 0)
	if err != nil {
		return nil, err
	}
	dilation, err := uniform(node, "dilations", 1)
	if err != nil {
		return nil, err
	}
	if dilation < 1 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "conv %s: dilation %d", node.Name, dilation)
	}
	// ONNX dilation is the tap spacing; the kernel counts the gaps.
	return layers.NewConvolutionLayer(stride, padding, dilation-1, w, bias, ctx.Impl), nil
}

func handlePool(kind string) OpHandler {
	return func(ctx *Context, node *Node) (layers.Layer, error) {
		kernel := node.AttrInts("kernel_shape")
		if len(kernel) == 0 || len(kernel) > 2 {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "%s %s: kernel_shape %v", node.OpType, node.Name, kernel)
		}
		// The pooling kernel uses non-overlapping windows only.
		strides := node.AttrInts("strides")
		if len(strides) == 0 {
			strides = make([]int, len(kernel))
			for i := range strides {
				strides[i] = 1
			}
		}
		for i := range kernel {
			if i >= len(strides) || strides[i] != kernel[i] {
				return nil, unsupportedf("%s %s: strides %v differ from kernel_shape %v", node.OpType, node.Name, strides, kernel)
			}
		}
		for _, p := range node.AttrInts("pads") {
			if p != 0 {
				return nil, unsupportedf("%s %s: padding", node.OpType, node.Name)
			}
		}
		return layers.NewPoolingLayer(tensor.Shape(kernel), kind, ctx.Impl)
	}
}

func handleGlobalPool(_ *Context, node *Node) (layers.Layer, error) {
	return nil, unsupportedf("%s %s: global pooling", node.OpType, node.Name)
}

func handleGemm(ctx *Context, node *Node) (layers.Layer, error) {
	if node.AttrInt("transA", 0) != 0 {
		return nil, unsupportedf("gemm %s: transA", node.Name)
	}
	b, ok := ctx.Constant(node, 1)
	if !ok {
		return nil, unsupportedf("gemm %s: B must be an initializer", node.Name)
	}
	if b.Rank() != 2 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "gemm %s: B must be 2D, got %v", node.Name, b.Shape())
	}

	weights := b
	if node.AttrInt("transB", 0) == 0 {
		var err error
		if weights, err = layers.TransposeTensor(b, []int{1, 0}); err != nil {
			return nil, err
		}
	}
	out := weights.Shape()[0]

	bias, err := tensor.Zeros(tensor.Shape{out}, weights.DType())
	if err != nil {
		return nil, err
	}
	if c, ok := ctx.Constant(node, 2); ok {
		if bias, err = gemmBias(c, out, weights.DType()); err != nil {
			return nil, errors.Wrapf(err, "gemm %s", node.Name)
		}
	}

	if alpha := node.AttrFloat("alpha", 1); alpha != 1 {
		if weights, err = scale(weights, alpha); err != nil {
			return nil, err
		}
	}
	if beta := node.AttrFloat("beta", 1); beta != 1 {
		if bias, err = scale(bias, beta); err != nil {
			return nil, err
		}
	}
	return layers.NewFCLayer(weights, bias), nil
}

// gemmBias turns C into a bias vector of length out. C may already have
// out elements or be a single value broadcast to all of them.
func gemmBias(c *tensor.Tensor, out int, dt tensor.DataType) (*tensor.Tensor, error) {
	switch c.NumElements() {
	case out:
		return c.Reshape(tensor.Shape{out})
	case 1:
		zeros, err := tensor.Zeros(tensor.Shape{out}, dt)
		if err != nil {
			return nil, err
		}
		scalar, err := c.Reshape(tensor.Shape{1})
		if err != nil {
			return nil, err
		}
		return layers.Apply(layers.Add, zeros, scalar)
	default:
		return nil, unsupportedf("bias shape %v for %d outputs", c.Shape(), out)
	}
}

func scale(t *tensor.Tensor, by float32) (*tensor.Tensor, error) {
	return layers.Apply(layers.Mul, t, tensor.FromVector([]float32{by}))
}

func handleMatMul(ctx *Context, node *Node) (layers.Layer, error) {
	b, ok := ctx.Constant(node, 1)
	if !ok {
		return nil, unsupportedf("matmul %s: B must be an initializer", node.Name)
	}
	if b.Rank() != 2 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "matmul %s: B must be 2D, got %v", node.Name, b.Shape())
	}
	// [in, out] -> [out, in]
	weights, err := layers.TransposeTensor(b, []int{1, 0})
	if err != nil {
		return nil, err
	}
	bias, err := tensor.Zeros(tensor.Shape{weights.Shape()[0]}, weights.DType())
	if err != nil {
		return nil, err
	}
	return layers.NewFCLayer(weights, bias), nil
}
