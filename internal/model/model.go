// Package model turns exported Keras-style layer records into a layer chain.
package model

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/graph"
	"github.com/itlab-ai/infer/internal/layers"
	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
	"github.com/itlab-ai/infer/internal/weights"
)

// Options controls how records become layers.
type Options struct {
	// Mean and Std normalize the input image: (x - Mean) / Std.
	Mean, Std float32
	Labels    []string
	Impl      parallel.Strategy
	// KeepDropout keeps dropout active during inference. By default
	// dropout layers pass their input through unchanged.
	KeepDropout bool
	DropoutSeed uint64
	Log         logrus.FieldLogger
}

// DefaultOptions matches the exporter's preprocessing.
func DefaultOptions() Options {
	return Options{Mean: 0, Std: 1}
}

// Model is a linear chain of layers: an input layer, the converted
// records in order and an output layer.
type Model struct {
	Layers []layers.Layer
	Input  *layers.InputLayer
	Output *layers.OutputLayer
}

// Load reads layer records from r and builds a model.
func Load(r io.Reader, opts Options) (*Model, error) {
	records, err := weights.LoadLayers(r)
	if err != nil {
		return nil, err
	}
	return Build(records, opts)
}

// Build converts layer records into a model.
func Build(records []weights.LayerRecord, opts Options) (*Model, error) {
	log := opts.Log
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = quiet
	}
	if opts.Std == 0 {
		opts.Std = 1
	}

	in, err := layers.NewInputLayer(layers.NHWC, layers.NCHW, opts.Mean, opts.Std)
	if err != nil {
		return nil, err
	}
	m := &Model{Input: in, Layers: []layers.Layer{in}}

	for i := range records {
		rec := &records[i]
		kind := rec.Type
		var l layers.Layer

		switch {
		case strings.Contains(kind, "InputLayer"):
			continue
		case strings.Contains(kind, "Conv"):
			l, err = convolution(rec, opts.Impl)
		case strings.Contains(kind, "Dense"):
			l, err = dense(rec)
		case strings.Contains(kind, "Pool"):
			l, err = pooling(rec, opts.Impl)
		case strings.Contains(kind, "Flatten"):
			// Keras flattens channel-last data.
			l = layers.NewFlattenLayer(0, 2, 3, 1)
		case strings.Contains(kind, "Dropout"):
			rate := 0.0
			if opts.KeepDropout {
				rate = rec.Rate
			}
			l, err = layers.NewDropOutLayer(rate, opts.DropoutSeed)
		case kind == "Activation":
			if err := attachActivation(m.last(), rec.Activation); err != nil {
				return nil, errors.Wrapf(err, "record %d (%s)", rec.Index, rec.Name)
			}
			continue
		default:
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "record %d (%s): unsupported layer type %q", rec.Index, rec.Name, kind)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "record %d (%s)", rec.Index, rec.Name)
		}
		if rec.Name != "" {
			if named, ok := l.(interface{ SetName(string) }); ok {
				named.SetName(rec.Name)
			}
		}
		if err := attachActivation(l, rec.Activation); err != nil {
			return nil, errors.Wrapf(err, "record %d (%s)", rec.Index, rec.Name)
		}
		log.WithFields(logrus.Fields{"index": rec.Index, "name": rec.Name, "type": kind}).Debug("layer added")
		m.Layers = append(m.Layers, l)
	}

	m.Output = layers.NewOutputLayer(opts.Labels...)
	m.Layers = append(m.Layers, m.Output)
	log.WithField("layers", len(m.Layers)).Info("model built")
	return m, nil
}

// Graph binds input to the model's chain.
func (m *Model) Graph(input *tensor.Tensor, opts ...graph.Option) (*graph.Graph, error) {
	return graph.Chain(m.Layers, []*tensor.Tensor{input}, opts...)
}

func (m *Model) last() layers.Layer {
	return m.Layers[len(m.Layers)-1]
}

type postOpper interface {
	AddPostOp(layers.Layer)
}

// attachActivation fuses a named activation onto l as a post-op.
func attachActivation(l layers.Layer, name string) error {
	var act layers.Layer
	switch name {
	case "", layers.FuncLinear:
		return nil
	case "softmax":
		act = layers.NewSoftmaxLayer()
	default:
		ew, err := layers.NewActivation(name)
		if err != nil {
			return err
		}
		act = ew
	}
	p, ok := l.(postOpper)
	if !ok {
		return errors.Wrapf(tensor.ErrInvalidArgument, "layer %s cannot take post-ops", l.Name())
	}
	p.AddPostOp(act)
	return nil
}

func convolution(rec *weights.LayerRecord, impl parallel.Strategy) (layers.Layer, error) {
	kernel := rec.Kernel()
	if kernel == nil {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "convolution without a kernel")
	}
	ks := kernel.Shape()
	if ks.Rank() != 2 && ks.Rank() != 4 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "convolution kernel must be 2D or 4D, got %v", ks)
	}
	if ks.Rank() == 4 {
		// [KH, KW, CIn, COut] -> [COut, CIn, KH, KW]
		var err error
		if kernel, err = layers.TransposeTensor(kernel, []int{3, 2, 0, 1}); err != nil {
			return nil, err
		}
	}
	kh := kernel.Shape()[kernel.Rank()-2]

	stride := 1
	if len(rec.Strides) > 0 {
		stride = rec.Strides[0]
	}
	padding := 0
	if rec.Padding == "same" {
		padding = (kh - 1) / 2
	}
	return layers.NewConvolutionLayer(stride, padding, 0, kernel, rec.Bias(), impl), nil
}

func dense(rec *weights.LayerRecord) (layers.Layer, error) {
	kernel := rec.Kernel()
	if kernel == nil || kernel.Rank() != 2 {
		return nil, errors.Wrap(tensor.ErrInvalidArgument, "dense layer needs a 2D kernel")
	}
	// [in, out] -> [out, in]
	w, err := layers.TransposeTensor(kernel, []int{1, 0})
	if err != nil {
		return nil, err
	}
	bias := rec.Bias()
	if bias == nil {
		if bias, err = tensor.Zeros(tensor.Shape{w.Shape()[0]}, tensor.Float32); err != nil {
			return nil, err
		}
	}
	return layers.NewFCLayer(w, bias), nil
}

func pooling(rec *weights.LayerRecord, impl parallel.Strategy) (layers.Layer, error) {
	kind := "max"
	if strings.Contains(rec.Type, "Average") {
		kind = "average"
	}
	size := tensor.Shape{2, 2}
	if len(rec.PoolSize) > 0 {
		size = tensor.Shape(rec.PoolSize)
	}
	return layers.NewPoolingLayer(size, kind, impl)
}
