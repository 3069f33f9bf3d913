package nn

import (
	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/graph"
	"github.com/itlab-ai/infer/tensor"
)

// Graph is a directed graph of layers with one input and one output.
type Graph = graph.Graph

// GraphOption configures a Graph.
type GraphOption = graph.Option

// Stat records the execution of one layer.
type Stat = graph.Stat

// ErrUnreachableOutput is returned when no path joins input and output.
var ErrUnreachableOutput = graph.ErrUnreachableOutput

// NewGraph creates an empty graph with room for capacity layers.
func NewGraph(capacity int, opts ...GraphOption) (*Graph, error) {
	return graph.New(capacity, opts...)
}

// Chain connects ls in order, binds inputs to the first layer and makes
// the last one the output.
func Chain(ls []Layer, inputs []*tensor.Tensor, opts ...GraphOption) (*Graph, error) {
	return graph.Chain(ls, inputs, opts...)
}

// WithLogger logs node execution to log.
func WithLogger(log logrus.FieldLogger) GraphOption {
	return graph.WithLogger(log)
}

// WithStatistics records a Stat for every executed node.
func WithStatistics() GraphOption {
	return graph.WithStatistics()
}
