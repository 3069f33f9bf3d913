package loader

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/graph"
	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/model"
	"github.com/itlab-ai/infer/internal/modelstore"
	"github.com/itlab-ai/infer/internal/onnx"
	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

// Options configures Load and Read.
type Options struct {
	// Format forces a format. FormatUnknown detects it.
	Format Format
	// Checksum is the expected hex SHA-256 of the model file, if any.
	Checksum  string
	Mean, Std float32
	Labels    []string
	Impl      parallel.Strategy
	// Strict rejects ONNX operators without a handler.
	Strict bool
	Log    logrus.FieldLogger
}

// DefaultOptions detects the format and rejects unknown ONNX operators.
func DefaultOptions() Options {
	return Options{Std: 1, Strict: true}
}

// Model is a loaded layer chain that takes NHWC image tensors.
type Model struct {
	Format   Format
	Checksum string
	Layers   []layers.Layer
	Input    *layers.InputLayer
	Output   *layers.OutputLayer
}

// Graph binds input to the model's chain.
func (m *Model) Graph(input *tensor.Tensor, opts ...graph.Option) (*graph.Graph, error) {
	return graph.Chain(m.Layers, []*tensor.Tensor{input}, opts...)
}

// Load opens uri through store and builds the model it holds.
func Load(ctx context.Context, store *modelstore.Store, uri string, opts Options) (*Model, error) {
	rc, err := store.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	m, err := Read(rc, uri, opts)
	return m, errors.Wrapf(err, "loading %s", uri)
}

// Read builds a model from r. name is used for format detection only.
func Read(r io.Reader, name string, opts Options) (*Model, error) {
	log := opts.Log
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = quiet
	}
	if opts.Std == 0 {
		opts.Std = 1
	}

	start := time.Now()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading model")
	}
	if err := verifyChecksum(data, opts.Checksum); err != nil {
		return nil, err
	}

	format := opts.Format
	if format == FormatUnknown {
		format = DetectFormat(name, data[:min(len(data), 16)])
	}

	var m *Model
	switch format {
	case FormatJSON:
		m, err = readJSON(data, opts, log)
	case FormatONNX:
		m, err = readONNX(data, opts, log)
	default:
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "cannot detect model format of %q", name)
	}
	if err != nil {
		return nil, err
	}
	m.Format = format
	m.Checksum = Checksum(data)
	log.WithFields(logrus.Fields{
		"format":   format,
		"layers":   len(m.Layers),
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Info("model loaded")
	return m, nil
}

func readJSON(data []byte, opts Options, log logrus.FieldLogger) (*Model, error) {
	mm, err := model.Load(bytes.NewReader(data), model.Options{
		Mean:   opts.Mean,
		Std:    opts.Std,
		Labels: opts.Labels,
		Impl:   opts.Impl,
		Log:    log,
	})
	if err != nil {
		return nil, err
	}
	return &Model{Layers: mm.Layers, Input: mm.Input, Output: mm.Output}, nil
}

// readONNX imports an ONNX graph and makes its input layer accept NHWC
// images like the JSON models do.
func readONNX(data []byte, opts Options, log logrus.FieldLogger) (*Model, error) {
	om, err := onnx.Import(data, onnx.Options{
		FoldActivations: true,
		Strict:          opts.Strict,
		Impl:            opts.Impl,
		Labels:          opts.Labels,
		Log:             log,
	})
	if err != nil {
		return nil, err
	}
	om.Input.From = layers.NHWC
	om.Input.Mean = opts.Mean
	om.Input.Std = opts.Std
	log.WithFields(logrus.Fields{"input": om.InputName, "output": om.OutputName, "opset": om.Opset}).Debug("onnx graph imported")
	return &Model{Layers: om.Layers, Input: om.Input, Output: om.Output}, nil
}
