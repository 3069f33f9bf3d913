// Package graph connects layers into a network and runs inference over it.
//
// A Graph owns an arena of layers addressed by integer ids, assigned in
// registration order starting at 0 for the input layer. Edges are stored
// as id adjacency lists. Inference finds the shortest path from the input
// node to the output node with a breadth-first search and executes only
// the nodes on that path, in order. Branches that are not on the path are
// kept as edges but never run; activations and similar layers are fused
// onto their producer as post-ops instead.
package graph

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/tensor"
)

// ErrUnreachableOutput is returned by Inference when no path leads from
// the input layer to the output layer. The output sink is left untouched.
var ErrUnreachableOutput = errors.New("output layer is unreachable from the input")

const noNode = -1

// Graph is a network of layers with one input and one output node.
// It is not safe for concurrent use.
type Graph struct {
	nodes []layers.Layer
	index map[layers.Layer]int
	edges [][]int

	inputs   []*tensor.Tensor
	outputID int
	sink     *tensor.Tensor
	outputs  []*tensor.Tensor

	log          logrus.FieldLogger
	collectStats bool
	stats        []Stat
}

// Stat records the execution of one node on the inference path.
type Stat struct {
	ID      int
	Name    string
	Type    layers.LayerType
	Elapsed time.Duration
	// Outputs are the node's results after its post-ops ran.
	Outputs []*tensor.Tensor
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger traces path discovery and per-node timing at debug level.
func WithLogger(log logrus.FieldLogger) Option {
	return func(g *Graph) {
		if log != nil {
			g.log = log
		}
	}
}

// WithStatistics records a Stat for every executed node.
func WithStatistics() Option {
	return func(g *Graph) {
		g.collectStats = true
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// New creates an empty graph. capacity is a hint for the number of layers.
func New(capacity int, opts ...Option) (*Graph, error) {
	if capacity < 0 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "graph capacity must be non-negative, got %d", capacity)
	}
	g := &Graph{
		nodes:    make([]layers.Layer, 0, capacity),
		index:    make(map[layers.Layer]int, capacity),
		edges:    make([][]int, 0, capacity),
		outputID: noNode,
		log:      discardLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Len returns the number of registered layers.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// ID returns the id of a registered layer.
func (g *Graph) ID(l layers.Layer) (int, bool) {
	id, ok := g.index[l]
	return id, ok
}

// Layer returns the layer registered under id.
func (g *Graph) Layer(id int) (layers.Layer, bool) {
	if id < 0 || id >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[id], true
}

func (g *Graph) register(l layers.Layer) int {
	if id, ok := g.index[l]; ok {
		return id
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, l)
	g.edges = append(g.edges, nil)
	g.index[l] = id
	return id
}

// SetInput registers l as the input node (id 0) and binds the tensors it
// receives on every Inference. The tensors are copied.
func (g *Graph) SetInput(l layers.Layer, inputs ...*tensor.Tensor) error {
	if l == nil {
		return errors.Wrap(tensor.ErrInvalidArgument, "input layer is nil")
	}
	if len(inputs) == 0 {
		return errors.Wrap(tensor.ErrInvalidArgument, "input layer needs at least one tensor")
	}
	if id, ok := g.index[l]; ok && id != 0 || !ok && len(g.nodes) > 0 {
		return errors.Wrapf(tensor.ErrInvalidArgument, "input layer %q must be the first layer registered", l.Name())
	}
	bound := make([]*tensor.Tensor, len(inputs))
	for i, t := range inputs {
		if t == nil {
			return errors.Wrapf(tensor.ErrInvalidArgument, "input tensor %d is nil", i)
		}
		bound[i] = t.Clone()
	}
	g.register(l)
	g.inputs = bound
	return nil
}

// MakeConnection records an edge prev -> next, registering next if needed.
// Duplicate edges are ignored.
func (g *Graph) MakeConnection(prev, next layers.Layer) error {
	if prev == nil || next == nil {
		return errors.Wrap(tensor.ErrInvalidArgument, "cannot connect a nil layer")
	}
	if prev == next {
		return errors.Wrapf(tensor.ErrInvalidArgument, "layer %q cannot be connected to itself", prev.Name())
	}
	from, ok := g.index[prev]
	if !ok {
		return errors.Wrapf(tensor.ErrInvalidArgument, "layer %q is not part of the graph", prev.Name())
	}
	to := g.register(next)
	for _, e := range g.edges[from] {
		if e == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// AreLayerNext reports whether an edge a -> b exists.
func (g *Graph) AreLayerNext(a, b layers.Layer) bool {
	from, ok := g.index[a]
	if !ok {
		return false
	}
	to, ok := g.index[b]
	if !ok {
		return false
	}
	for _, e := range g.edges[from] {
		if e == to {
			return true
		}
	}
	return false
}

// SetOutput designates l as the output node. On a successful Inference the
// first output tensor is copied into sink, if sink is non-nil.
func (g *Graph) SetOutput(l layers.Layer, sink *tensor.Tensor) error {
	id, ok := g.index[l]
	if !ok {
		return errors.Wrap(tensor.ErrInvalidArgument, "output layer is not part of the graph")
	}
	g.outputID = id
	g.sink = sink
	return nil
}

// Outputs returns every tensor produced by the last successful Inference.
func (g *Graph) Outputs() []*tensor.Tensor {
	return g.outputs
}

// Stats returns the statistics of the last Inference, if enabled.
func (g *Graph) Stats() []Stat {
	return g.stats
}

// Path returns the node ids Inference would execute, in order.
func (g *Graph) Path() ([]int, error) {
	if len(g.nodes) == 0 || g.inputs == nil {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "graph has no input")
	}
	if g.outputID == noNode {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "graph has no output")
	}
	return g.shortestPath(0, g.outputID)
}

// shortestPath runs a breadth-first search from start and rebuilds the
// path to end from the recorded parents.
func (g *Graph) shortestPath(start, end int) ([]int, error) {
	parent := make([]int, len(g.nodes))
	visited := make([]bool, len(g.nodes))
	for i := range parent {
		parent[i] = noNode
	}

	queue := []int{start}
	visited[start] = true
	for len(queue) > 0 && !visited[end] {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if !visited[next] {
				visited[next] = true
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	if !visited[end] {
		return nil, ErrUnreachableOutput
	}

	var path []int
	for v := end; v != noNode; v = parent[v] {
		path = append(path, v)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Inference runs the layers on the input-to-output path in order. Each
// node receives the full output list of its predecessor; its post-ops run
// on its result before the next node.
func (g *Graph) Inference() error {
	path, err := g.Path()
	if err != nil {
		return err
	}
	g.log.WithField("path", path).Debug("inference path")

	if g.collectStats {
		g.stats = make([]Stat, 0, len(path))
	}

	current := g.inputs
	for _, id := range path {
		node := g.nodes[id]
		start := time.Now()

		outs, err := node.Run(current)
		if err != nil {
			return errors.Wrapf(err, "layer %d (%s %q)", id, node.Type(), node.Name())
		}
		for _, op := range node.PostOps() {
			if outs, err = op.Run(outs); err != nil {
				return errors.Wrapf(err, "post-op %s of layer %d (%q)", op.Name(), id, node.Name())
			}
		}

		elapsed := time.Since(start)
		g.log.WithFields(logrus.Fields{
			"id":      id,
			"layer":   node.Name(),
			"type":    node.Type().String(),
			"elapsed": elapsed,
		}).Debug("layer done")
		if g.collectStats {
			g.stats = append(g.stats, Stat{ID: id, Name: node.Name(), Type: node.Type(), Elapsed: elapsed, Outputs: outs})
		}
		current = outs
	}

	g.outputs = current
	if g.sink != nil && len(current) > 0 {
		*g.sink = *current[0].Clone()
	}
	return nil
}
