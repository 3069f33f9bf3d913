// Package weights reads model weights exported as nested JSON arrays.
//
// A tensor is stored as a rectangular nest of arrays whose leaves are
// numbers; the nesting depth gives the rank and the array lengths give
// the dimensions. A model is an array of layer records:
//
//	[
//	  {"index": 0, "name": "conv2d", "type": "Conv2D", "padding": "valid",
//	   "activation": "relu", "weights": [<kernel>, <bias>]},
//	  {"index": 1, "name": "max_pooling2d", "type": "MaxPooling2D", "pool_size": [2, 2]},
//	  ...
//	]
package weights

import (
	"io"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// ParseTensor parses a nested numeric JSON array into a float32 tensor.
// Ragged arrays and non-numeric leaves are rejected with ErrInvalidArgument.
func ParseTensor(data []byte) (*tensor.Tensor, error) {
	value, vt, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "malformed tensor JSON: %v", err)
	}
	p := &nestParser{leafDepth: -1}
	if err := p.walk(value, vt, 0); err != nil {
		return nil, err
	}
	return tensor.Own(p.values, tensor.Shape(p.shape))
}

type nestParser struct {
	shape     []int
	values    []float32
	leafDepth int
}

func (p *nestParser) walk(value []byte, vt jsonparser.ValueType, depth int) error {
	switch vt {
	case jsonparser.Number:
		if p.leafDepth < 0 {
			if depth < len(p.shape) {
				return errors.Wrapf(tensor.ErrInvalidArgument, "number at depth %d inside a rank-%d array", depth, len(p.shape))
			}
			p.leafDepth = depth
		} else if depth != p.leafDepth {
			return errors.Wrapf(tensor.ErrInvalidArgument, "ragged array: number at depth %d, expected %d", depth, p.leafDepth)
		}
		f, err := jsonparser.ParseFloat(value)
		if err != nil {
			return errors.Wrapf(tensor.ErrInvalidArgument, "bad number %q", value)
		}
		p.values = append(p.values, float32(f))
		return nil

	case jsonparser.Array:
		if p.leafDepth >= 0 && depth >= p.leafDepth {
			return errors.Wrapf(tensor.ErrInvalidArgument, "ragged array: array at depth %d below the leaves", depth)
		}
		count := 0
		if _, err := jsonparser.ArrayEach(value, func([]byte, jsonparser.ValueType, int, error) {
			count++
		}); err != nil {
			return errors.Wrapf(tensor.ErrInvalidArgument, "malformed array: %v", err)
		}
		switch {
		case depth == len(p.shape):
			p.shape = append(p.shape, count)
		case p.shape[depth] != count:
			return errors.Wrapf(tensor.ErrInvalidArgument, "ragged array: length %d at depth %d, expected %d", count, depth, p.shape[depth])
		}

		var inner error
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, e error) {
			if inner != nil {
				return
			}
			if e != nil {
				inner = e
				return
			}
			inner = p.walk(v, t, depth+1)
		})
		if inner != nil {
			return inner
		}
		if err != nil {
			return errors.Wrapf(tensor.ErrInvalidArgument, "malformed array: %v", err)
		}
		return nil

	default:
		return errors.Wrapf(tensor.ErrInvalidArgument, "unexpected %s in tensor JSON", vt)
	}
}

// LayerRecord is one layer of an exported model.
type LayerRecord struct {
	Index      int
	Name       string
	Type       string
	Padding    string
	Activation string
	Strides    []int
	PoolSize   []int
	Rate       float64
	// Weights holds the kernel first and the bias, when present, second.
	Weights []*tensor.Tensor
}

// Kernel returns the first weight tensor, or nil.
func (r *LayerRecord) Kernel() *tensor.Tensor {
	if len(r.Weights) == 0 {
		return nil
	}
	return r.Weights[0]
}

// Bias returns the second weight tensor, or nil.
func (r *LayerRecord) Bias() *tensor.Tensor {
	if len(r.Weights) < 2 {
		return nil
	}
	return r.Weights[1]
}

// LoadLayers reads an array of layer records.
func LoadLayers(r io.Reader) ([]LayerRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading model weights")
	}
	return ParseLayers(data)
}

// ParseLayers parses an array of layer records.
func ParseLayers(data []byte) ([]LayerRecord, error) {
	value, vt, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "malformed model JSON: %v", err)
	}
	if vt != jsonparser.Array {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "model JSON must be an array of layers, got %s", vt)
	}

	var records []LayerRecord
	var inner error
	_, err = jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, e error) {
		if inner != nil {
			return
		}
		if e != nil {
			inner = e
			return
		}
		if t != jsonparser.Object {
			inner = errors.Wrapf(tensor.ErrInvalidArgument, "layer %d is a %s, not an object", len(records), t)
			return
		}
		rec, err := parseRecord(v, len(records))
		if err != nil {
			inner = errors.Wrapf(err, "layer %d", len(records))
			return
		}
		records = append(records, rec)
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "malformed model JSON: %v", err)
	}
	return records, nil
}

func parseRecord(v []byte, position int) (LayerRecord, error) {
	rec := LayerRecord{Index: position}

	typ, err := jsonparser.GetString(v, "type")
	if err != nil {
		return rec, errors.Wrap(tensor.ErrInvalidArgument, "missing layer type")
	}
	rec.Type = typ

	if idx, err := jsonparser.GetInt(v, "index"); err == nil {
		rec.Index = int(idx)
	}
	rec.Name, _ = jsonparser.GetString(v, "name")
	rec.Padding, _ = jsonparser.GetString(v, "padding")
	rec.Activation, _ = jsonparser.GetString(v, "activation")
	if rate, err := jsonparser.GetFloat(v, "rate"); err == nil {
		rec.Rate = rate
	}
	if rec.Strides, err = intList(v, "strides"); err != nil {
		return rec, err
	}
	if rec.PoolSize, err = intList(v, "pool_size"); err != nil {
		return rec, err
	}

	raw, vt, _, err := jsonparser.Get(v, "weights")
	switch {
	case errors.Is(err, jsonparser.KeyPathNotFoundError):
		return rec, nil
	case err != nil:
		return rec, errors.Wrapf(tensor.ErrInvalidArgument, "malformed weights: %v", err)
	case vt != jsonparser.Array:
		return rec, errors.Wrapf(tensor.ErrInvalidArgument, "weights must be an array, got %s", vt)
	}

	var inner error
	_, err = jsonparser.ArrayEach(raw, func(w []byte, _ jsonparser.ValueType, _ int, e error) {
		if inner != nil {
			return
		}
		if e != nil {
			inner = e
			return
		}
		t, err := ParseTensor(w)
		if err != nil {
			inner = errors.Wrapf(err, "weight %d", len(rec.Weights))
			return
		}
		rec.Weights = append(rec.Weights, t)
	})
	if inner != nil {
		return rec, inner
	}
	if err != nil {
		return rec, errors.Wrapf(tensor.ErrInvalidArgument, "malformed weights: %v", err)
	}
	return rec, nil
}

func intList(v []byte, key string) ([]int, error) {
	raw, vt, _, err := jsonparser.Get(v, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "malformed %s: %v", key, err)
	}
	if vt == jsonparser.Number {
		n, err := jsonparser.ParseInt(raw)
		if err != nil {
			return nil, errors.Wrapf(tensor.ErrInvalidArgument, "malformed %s: %v", key, err)
		}
		return []int{int(n), int(n)}, nil
	}
	var out []int
	var inner error
	_, err = jsonparser.ArrayEach(raw, func(n []byte, t jsonparser.ValueType, _ int, _ error) {
		if inner != nil {
			return
		}
		if t != jsonparser.Number {
			inner = errors.Wrapf(tensor.ErrInvalidArgument, "%s must hold integers", key)
			return
		}
		i, err := jsonparser.ParseInt(n)
		if err != nil {
			inner = errors.Wrapf(tensor.ErrInvalidArgument, "malformed %s: %v", key, err)
			return
		}
		out = append(out, int(i))
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "malformed %s: %v", key, err)
	}
	return out, nil
}
