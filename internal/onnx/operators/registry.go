package operators

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

// ErrUnsupported reports an operator or attribute combination the engine
// cannot express.
var ErrUnsupported = errors.New("unsupported onnx operator")

// Context carries the model's initializers, its default-domain opset and
// the kernel strategy into handlers. A zero Opset means the latest.
type Context struct {
	Constants map[string]*tensor.Tensor
	Opset     int64
	Impl      parallel.Strategy
}

// Constant returns the initializer feeding input i of node, if any.
func (c *Context) Constant(node *Node, i int) (*tensor.Tensor, bool) {
	if i >= len(node.Inputs) || node.Inputs[i] == "" {
		return nil, false
	}
	t, ok := c.Constants[node.Inputs[i]]
	return t, ok
}

// DataInputs returns the names of node inputs that are neither empty nor
// initializers.
func (c *Context) DataInputs(node *Node) []string {
	var names []string
	for _, in := range node.Inputs {
		if in == "" {
			continue
		}
		if _, ok := c.Constants[in]; ok {
			continue
		}
		names = append(names, in)
	}
	return names
}

// OpHandler converts a node into a layer. A nil layer with a nil error
// means the node passes its input through unchanged.
type OpHandler func(ctx *Context, node *Node) (layers.Layer, error)

// Registry maps ONNX operator types to handlers.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every built-in operator.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]OpHandler)}
	r.registerNNOps()
	r.registerActivations()
	r.registerMathOps()
	r.registerShapeOps()
	r.registerUtilityOps()
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for opType.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Convert runs the handler registered for node.OpType.
func (r *Registry) Convert(ctx *Context, node *Node) (layers.Layer, error) {
	h, ok := r.handlers[node.OpType]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "operator %s", node.OpType)
	}
	return h(ctx, node)
}

// SupportedOps returns the registered operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func unsupportedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupported, format, args...)
}
