package onnx

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/itlab-ai/infer/internal/graph"
	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/onnx/operators"
	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

// Options configures Import.
type Options struct {
	// FoldActivations attaches element-wise nodes to the preceding layer
	// as post-ops instead of giving them a node of their own.
	FoldActivations bool
	// Strict fails on operator types without a handler. Otherwise such
	// nodes are logged and passed through.
	Strict bool
	Impl   parallel.Strategy
	Labels []string
	Log    logrus.FieldLogger
	// Registry overrides the built-in operator set.
	Registry *operators.Registry
}

// DefaultOptions folds activations and rejects unknown operators.
func DefaultOptions() Options {
	return Options{FoldActivations: true, Strict: true}
}

// Model is an imported ONNX model: an identity input layer, one layer per
// converted node and an output layer.
type Model struct {
	Proto      *ModelProto
	Layers     []layers.Layer
	Input      *layers.InputLayer
	Output     *layers.OutputLayer
	InputName  string
	OutputName string
	// InputShape is the declared input shape with symbolic dimensions set
	// to 1. It is nil when the model does not declare one.
	InputShape tensor.Shape
	Opset      int64
}

// Load reads and imports an ONNX model.
func Load(r io.Reader, opts Options) (*Model, error) {
	proto, err := ParseReader(r)
	if err != nil {
		return nil, err
	}
	return FromProto(proto, opts)
}

// Import parses data and imports the model.
func Import(data []byte, opts Options) (*Model, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return FromProto(proto, opts)
}

// ListSupportedOps returns the operator types the default registry handles.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}

// FromProto converts a parsed model into a layer chain.
func FromProto(proto *ModelProto, opts Options) (*Model, error) {
	g := proto.Graph
	if g == nil {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "model has no graph")
	}
	log := opts.Log
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = quiet
	}
	registry := opts.Registry
	if registry == nil {
		registry = operators.NewRegistry()
	}

	ctx := &operators.Context{
		Constants: make(map[string]*tensor.Tensor),
		Opset:     opsetVersion(proto),
		Impl:      opts.Impl,
	}
	for i := range g.Initializers {
		init := &g.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return nil, errors.Wrapf(err, "initializer %s", init.Name)
		}
		ctx.Constants[init.Name] = t
	}

	m := &Model{Proto: proto, Opset: ctx.Opset}
	for i := range g.Inputs {
		in := &g.Inputs[i]
		if _, ok := ctx.Constants[in.Name]; ok {
			continue
		}
		if m.InputName != "" {
			return nil, errors.Wrapf(operators.ErrUnsupported, "more than one graph input (%s, %s)", m.InputName, in.Name)
		}
		m.InputName = in.Name
		m.InputShape = declaredShape(in.Dims)
	}
	if m.InputName == "" {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "graph has no input")
	}
	if len(g.Outputs) > 0 {
		m.OutputName = g.Outputs[0].Name
	}

	input, err := layers.NewInputLayer(layers.NCHW, layers.NCHW, 0, 1)
	if err != nil {
		return nil, err
	}
	input.SetName(m.InputName)
	m.Input = input
	m.Layers = []layers.Layer{input}

	// current names the tensors produced by the last layer of the chain.
	current := []string{m.InputName}
	for _, np := range topologicalSort(g.Nodes) {
		node, err := toNode(&np)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s (%s)", np.Name, np.OpType)
		}
		if node.OpType == "Constant" {
			if err := bindConstant(ctx, node); err != nil {
				return nil, err
			}
			continue
		}

		data := ctx.DataInputs(node)
		if !sameNames(data, current) {
			return nil, errors.Wrapf(operators.ErrUnsupported,
				"node %s (%s) consumes %v but the chain provides %v", node.Name, node.OpType, data, current)
		}
		entry := log.WithFields(logrus.Fields{"op": node.OpType, "name": node.Name})

		if _, ok := registry.Get(node.OpType); !ok && !opts.Strict {
			entry.Warn("skipping unsupported operator")
			current = passThrough(node, current)
			continue
		}
		l, err := registry.Convert(ctx, node)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s (%s)", node.Name, node.OpType)
		}
		if l == nil {
			current = passThrough(node, current)
			continue
		}
		if named, ok := l.(interface{ SetName(string) }); ok && node.Name != "" {
			named.SetName(node.Name)
		}

		if opts.FoldActivations && l.Type() == layers.ElementWise && len(current) == 1 && len(m.Layers) > 1 {
			if prev, ok := m.Layers[len(m.Layers)-1].(interface{ AddPostOp(layers.Layer) }); ok {
				prev.AddPostOp(l)
				current = node.Outputs[:1]
				entry.Debug("folded into previous layer")
				continue
			}
		}

		m.Layers = append(m.Layers, l)
		current = node.Outputs
		if l.Type() == layers.Dropout {
			// The optional mask output is never produced.
			current = node.Outputs[:1]
		}
		entry.WithField("layer", l.Type()).Debug("node imported")
	}

	if m.OutputName != "" && (len(current) != 1 || current[0] != m.OutputName) {
		return nil, errors.Wrapf(operators.ErrUnsupported, "graph output %s is not the end of the chain %v", m.OutputName, current)
	}
	m.Output = layers.NewOutputLayer(opts.Labels...)
	m.Layers = append(m.Layers, m.Output)
	log.WithFields(logrus.Fields{"layers": len(m.Layers), "opset": m.Opset}).Info("onnx model imported")
	return m, nil
}

// Graph binds input to the imported chain.
func (m *Model) Graph(input *tensor.Tensor, opts ...graph.Option) (*graph.Graph, error) {
	return graph.Chain(m.Layers, []*tensor.Tensor{input}, opts...)
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string, len(m.Proto.MetadataProps)+3)
	for _, prop := range m.Proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.Proto.ProducerName
	meta["producer_version"] = m.Proto.ProducerVersion
	meta["domain"] = m.Proto.Domain
	return meta
}

func opsetVersion(proto *ModelProto) int64 {
	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

func declaredShape(dims []int64) tensor.Shape {
	if len(dims) == 0 {
		return nil
	}
	s := make(tensor.Shape, len(dims))
	for i, d := range dims {
		s[i] = int(max(d, 1))
	}
	return s
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func passThrough(node *operators.Node, current []string) []string {
	if len(node.Outputs) < len(current) {
		return current
	}
	return node.Outputs[:len(current)]
}

func bindConstant(ctx *operators.Context, node *operators.Node) error {
	for _, a := range node.Attributes {
		if a.Name == "value" && a.T != nil && len(node.Outputs) > 0 {
			ctx.Constants[node.Outputs[0]] = a.T
			return nil
		}
	}
	return errors.Wrapf(operators.ErrUnsupported, "constant %s: only tensor values are supported", node.Name)
}

func toNode(np *NodeProto) (*operators.Node, error) {
	n := &operators.Node{
		Name:       np.Name,
		OpType:     np.OpType,
		Inputs:     np.Inputs,
		Outputs:    np.Outputs,
		Attributes: make([]operators.Attribute, len(np.Attributes)),
	}
	if n.Name == "" && len(np.Outputs) > 0 {
		n.Name = np.Outputs[0]
	}
	for i := range np.Attributes {
		a := &np.Attributes[i]
		n.Attributes[i] = operators.Attribute{Name: a.Name, F: a.F, I: a.I, S: a.S, Floats: a.Floats, Ints: a.Ints}
		if a.T != nil {
			t, err := tensorFromProto(a.T)
			if err != nil {
				return nil, errors.Wrapf(err, "attribute %s", a.Name)
			}
			n.Attributes[i].T = t
		}
	}
	return n, nil
}

// tensorFromProto decodes an initializer. Doubles narrow to float32 and
// int64 values to int32.
func tensorFromProto(p *TensorProto) (*tensor.Tensor, error) {
	shape := make(tensor.Shape, len(p.Dims))
	for i, d := range p.Dims {
		if d < 0 {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "negative dimension %d", d)
		}
		shape[i] = int(d)
	}
	raw := p.RawData

	switch p.DataType {
	case TensorProtoFloat:
		vals := p.FloatData
		if len(raw) > 0 {
			if len(raw)%4 != 0 {
				return nil, errors.Wrapf(ErrMalformed, "float raw data of %d bytes", len(raw))
			}
			vals = make([]float32, 0, len(raw)/4)
			for b := raw; len(b) > 0; b = b[4:] {
				v, _ := protowire.ConsumeFixed32(b)
				vals = append(vals, math.Float32frombits(v))
			}
		}
		return tensor.Make(vals, shape)

	case TensorProtoDouble:
		doubles := p.DoubleData
		if len(raw) > 0 {
			if len(raw)%8 != 0 {
				return nil, errors.Wrapf(ErrMalformed, "double raw data of %d bytes", len(raw))
			}
			doubles = make([]float64, 0, len(raw)/8)
			for b := raw; len(b) > 0; b = b[8:] {
				v, _ := protowire.ConsumeFixed64(b)
				doubles = append(doubles, math.Float64frombits(v))
			}
		}
		vals := make([]float32, len(doubles))
		for i, v := range doubles {
			vals[i] = float32(v)
		}
		return tensor.Make(vals, shape)

	case TensorProtoInt32:
		vals := p.Int32Data
		if len(raw) > 0 {
			if len(raw)%4 != 0 {
				return nil, errors.Wrapf(ErrMalformed, "int32 raw data of %d bytes", len(raw))
			}
			vals = make([]int32, 0, len(raw)/4)
			for b := raw; len(b) > 0; b = b[4:] {
				v, _ := protowire.ConsumeFixed32(b)
				vals = append(vals, int32(v))
			}
		}
		return tensor.Make(vals, shape)

	case TensorProtoInt64:
		longs := p.Int64Data
		if len(raw) > 0 {
			if len(raw)%8 != 0 {
				return nil, errors.Wrapf(ErrMalformed, "int64 raw data of %d bytes", len(raw))
			}
			longs = make([]int64, 0, len(raw)/8)
			for b := raw; len(b) > 0; b = b[8:] {
				v, _ := protowire.ConsumeFixed64(b)
				longs = append(longs, int64(v))
			}
		}
		vals := make([]int32, len(longs))
		for i, v := range longs {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, errors.Wrapf(tensor.ErrInvalidArgument, "int64 value %d does not fit int32", v)
			}
			vals[i] = int32(v)
		}
		return tensor.Make(vals, shape)

	default:
		return nil, errors.Wrapf(tensor.ErrUnsupportedType, "onnx data type %d", p.DataType)
	}
}

// topologicalSort orders nodes so producers run before consumers.
func topologicalSort(nodes []NodeProto) []NodeProto {
	producer := make(map[string]int)
	for i := range nodes {
		for _, out := range nodes[i].Outputs {
			producer[out] = i
		}
	}

	visited := make([]bool, len(nodes))
	sorted := make([]NodeProto, 0, len(nodes))
	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, in := range nodes[i].Inputs {
			if dep, ok := producer[in]; ok {
				visit(dep)
			}
		}
		sorted = append(sorted, nodes[i])
	}
	for i := range nodes {
		visit(i)
	}
	return sorted
}
