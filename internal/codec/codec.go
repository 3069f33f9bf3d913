// Package codec serializes tensors with msgpack.
//
// A stream is a single msgpack array of frames. Each frame carries an
// optional name and the tensors produced under it, so a graph statistics
// dump and a plain list of tensors share one format.
package codec

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Frame is a named group of tensors.
type Frame struct {
	Name    string
	Tensors []*tensor.Tensor
}

type tensorRecord struct {
	DType     string    `msgpack:"dtype"`
	Shape     []int     `msgpack:"shape"`
	Floats    []float32 `msgpack:"f32,omitempty"`
	Ints      []int32   `msgpack:"i32,omitempty"`
	BiasFloat []float32 `msgpack:"bias_f32,omitempty"`
	BiasInt   []int32   `msgpack:"bias_i32,omitempty"`
}

type frameRecord struct {
	Name    string         `msgpack:"name,omitempty"`
	Tensors []tensorRecord `msgpack:"tensors"`
}

// Encode writes ts as one unnamed frame.
func Encode(w io.Writer, ts ...*tensor.Tensor) error {
	return EncodeFrames(w, []Frame{{Tensors: ts}})
}

// EncodeFrames writes frames to w.
func EncodeFrames(w io.Writer, frames []Frame) error {
	records := make([]frameRecord, len(frames))
	for i, f := range frames {
		records[i].Name = f.Name
		records[i].Tensors = make([]tensorRecord, len(f.Tensors))
		for j, t := range f.Tensors {
			rec, err := toRecord(t)
			if err != nil {
				return errors.Wrapf(err, "frame %d (%s) tensor %d", i, f.Name, j)
			}
			records[i].Tensors[j] = rec
		}
	}
	if err := msgpack.NewEncoder(w).Encode(records); err != nil {
		return errors.Wrap(err, "encoding msgpack")
	}
	return nil
}

// Decode reads a stream and returns the tensors of every frame in order.
func Decode(r io.Reader) ([]*tensor.Tensor, error) {
	frames, err := DecodeFrames(r)
	if err != nil {
		return nil, err
	}
	var out []*tensor.Tensor
	for _, f := range frames {
		out = append(out, f.Tensors...)
	}
	return out, nil
}

// DecodeFrames reads a stream written by EncodeFrames.
func DecodeFrames(r io.Reader) ([]Frame, error) {
	var records []frameRecord
	if err := msgpack.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decoding msgpack")
	}
	frames := make([]Frame, len(records))
	for i, rec := range records {
		frames[i].Name = rec.Name
		frames[i].Tensors = make([]*tensor.Tensor, len(rec.Tensors))
		for j, tr := range rec.Tensors {
			t, err := fromRecord(tr)
			if err != nil {
				return nil, errors.Wrapf(err, "frame %d (%s) tensor %d", i, rec.Name, j)
			}
			frames[i].Tensors[j] = t
		}
	}
	return frames, nil
}

func toRecord(t *tensor.Tensor) (tensorRecord, error) {
	if t == nil {
		return tensorRecord{}, errors.Wrap(tensor.ErrInvalidArgument, "nil tensor")
	}
	rec := tensorRecord{DType: t.DType().String(), Shape: []int(t.Shape())}
	var err error
	switch t.DType() {
	case tensor.Float32:
		if rec.Floats, err = t.Float32s(); err == nil {
			rec.BiasFloat, err = tensor.Bias[float32](t)
		}
	case tensor.Int32:
		if rec.Ints, err = t.Int32s(); err == nil {
			rec.BiasInt, err = tensor.Bias[int32](t)
		}
	default:
		err = errors.Wrapf(tensor.ErrUnsupportedType, "cannot encode %s tensor", t.DType())
	}
	return rec, err
}

func fromRecord(rec tensorRecord) (*tensor.Tensor, error) {
	shape, err := tensor.NewShape(rec.Shape...)
	if err != nil {
		return nil, err
	}
	switch tensor.ParseDataType(rec.DType) {
	case tensor.Float32:
		return build(rec.Floats, shape, rec.BiasFloat)
	case tensor.Int32:
		return build(rec.Ints, shape, rec.BiasInt)
	default:
		return nil, errors.Wrapf(tensor.ErrUnsupportedType, "unknown dtype %q", rec.DType)
	}
}

func build[T tensor.Element](values []T, shape tensor.Shape, bias []T) (*tensor.Tensor, error) {
	if len(bias) > 0 {
		return tensor.MakeWithBias(values, shape, bias)
	}
	return tensor.Make(values, shape)
}
