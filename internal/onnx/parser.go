package onnx

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/itlab-ai/infer/internal/tensor"
)

// ErrMalformed reports bytes that are not a valid ONNX protobuf.
var ErrMalformed = fmt.Errorf("malformed onnx protobuf: %w", tensor.ErrInvalidArgument)

// ParseFile parses the ONNX model stored at path.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Parse(data)
}

// ParseReader parses an ONNX model read from r.
func ParseReader(r io.Reader) (*ModelProto, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading onnx model")
	}
	return Parse(data)
}

// Parse decodes an ONNX ModelProto. Unknown fields are skipped.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := readModel(data, m); err != nil {
		return nil, errors.Wrap(err, "parsing model")
	}
	return m, nil
}

// field is one decoded key-value pair of a message.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u64   uint64
	bytes []byte
}

func (f field) str() string { return string(f.bytes) }

func (f field) i64() int64 { return int64(f.u64) }

// walk calls fn for every field of the message encoded in data.
func walk(data []byte, fn func(f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(data)
			f.u64 = uint64(v)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// appendInt64s handles both packed and unpacked repeated varints.
func appendInt64s(dst []int64, f field) ([]int64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, f.i64()), nil
	}
	if f.typ != protowire.BytesType {
		return dst, errors.Wrapf(ErrMalformed, "field %d: wire type %d for repeated int", f.num, f.typ)
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, errors.Wrapf(ErrMalformed, "field %d: %v", f.num, protowire.ParseError(n))
		}
		dst = append(dst, int64(v))
		b = b[n:]
	}
	return dst, nil
}

func appendInt32s(dst []int32, f field) ([]int32, error) {
	vals, err := appendInt64s(nil, f)
	for _, v := range vals {
		dst = append(dst, int32(v))
	}
	return dst, err
}

// appendFloats handles both packed and unpacked repeated floats.
func appendFloats(dst []float32, f field) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.u64))), nil
	}
	if f.typ != protowire.BytesType || len(f.bytes)%4 != 0 {
		return dst, errors.Wrapf(ErrMalformed, "field %d: bad repeated float encoding", f.num)
	}
	for b := f.bytes; len(b) > 0; b = b[4:] {
		v, _ := protowire.ConsumeFixed32(b)
		dst = append(dst, math.Float32frombits(v))
	}
	return dst, nil
}

func appendDoubles(dst []float64, f field) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.u64)), nil
	}
	if f.typ != protowire.BytesType || len(f.bytes)%8 != 0 {
		return dst, errors.Wrapf(ErrMalformed, "field %d: bad repeated double encoding", f.num)
	}
	for b := f.bytes; len(b) > 0; b = b[8:] {
		v, _ := protowire.ConsumeFixed64(b)
		dst = append(dst, math.Float64frombits(v))
	}
	return dst, nil
}

func readModel(data []byte, m *ModelProto) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			m.IRVersion = f.i64()
		case 2:
			m.ProducerName = f.str()
		case 3:
			m.ProducerVersion = f.str()
		case 4:
			m.Domain = f.str()
		case 5:
			m.ModelVersion = f.i64()
		case 6:
			m.DocString = f.str()
		case 7:
			m.Graph = &GraphProto{}
			return errors.Wrap(readGraph(f.bytes, m.Graph), "graph")
		case 8:
			var op OperatorSetID
			if err := readOperatorSetID(f.bytes, &op); err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, op)
		case 14:
			var e StringStringEntry
			if err := readStringStringEntry(f.bytes, &e); err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, e)
		}
		return nil
	})
}

func readGraph(data []byte, g *GraphProto) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			var n NodeProto
			if err := readNode(f.bytes, &n); err != nil {
				return errors.Wrapf(err, "node %d", len(g.Nodes))
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			g.Name = f.str()
		case 5:
			var t TensorProto
			if err := readTensor(f.bytes, &t); err != nil {
				return errors.Wrapf(err, "initializer %d", len(g.Initializers))
			}
			g.Initializers = append(g.Initializers, t)
		case 10:
			g.DocString = f.str()
		case 11, 12:
			var v ValueInfoProto
			if err := readValueInfo(f.bytes, &v); err != nil {
				return err
			}
			if f.num == 11 {
				g.Inputs = append(g.Inputs, v)
			} else {
				g.Outputs = append(g.Outputs, v)
			}
		}
		return nil
	})
}

func readNode(data []byte, n *NodeProto) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, f.str())
		case 2:
			n.Outputs = append(n.Outputs, f.str())
		case 3:
			n.Name = f.str()
		case 4:
			n.OpType = f.str()
		case 5:
			var a AttributeProto
			if err := readAttribute(f.bytes, &a); err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, a)
		case 7:
			n.Domain = f.str()
		}
		return nil
	})
}

func readTensor(data []byte, t *TensorProto) error {
	return walk(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = appendInt64s(t.Dims, f)
		case 2:
			t.DataType = int32(f.u64)
		case 4:
			t.FloatData, err = appendFloats(t.FloatData, f)
		case 5:
			t.Int32Data, err = appendInt32s(t.Int32Data, f)
		case 7:
			t.Int64Data, err = appendInt64s(t.Int64Data, f)
		case 8:
			t.Name = f.str()
		case 9:
			t.RawData = f.bytes
		case 10:
			t.DoubleData, err = appendDoubles(t.DoubleData, f)
		}
		return err
	})
}

func readValueInfo(data []byte, v *ValueInfoProto) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			v.Name = f.str()
		case 2:
			// TypeProto.tensor_type
			return walk(f.bytes, func(tf field) error {
				if tf.num != 1 {
					return nil
				}
				return readTensorType(tf.bytes, v)
			})
		}
		return nil
	})
}

func readTensorType(data []byte, v *ValueInfoProto) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			v.ElemType = int32(f.u64)
		case 2:
			// TensorShapeProto.dim
			return walk(f.bytes, func(df field) error {
				if df.num != 1 {
					return nil
				}
				dim := int64(-1)
				err := walk(df.bytes, func(vf field) error {
					if vf.num == 1 {
						dim = vf.i64()
					}
					return nil
				})
				v.Dims = append(v.Dims, dim)
				return err
			})
		}
		return nil
	})
}

func readAttribute(data []byte, a *AttributeProto) error {
	return walk(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name = f.str()
		case 2:
			a.F = math.Float32frombits(uint32(f.u64))
		case 3:
			a.I = f.i64()
		case 4:
			a.S = f.bytes
		case 5:
			a.T = &TensorProto{}
			err = readTensor(f.bytes, a.T)
		case 7:
			a.Floats, err = appendFloats(a.Floats, f)
		case 8:
			a.Ints, err = appendInt64s(a.Ints, f)
		case 9:
			a.Strings = append(a.Strings, f.bytes)
		case 20:
			a.Type = int32(f.u64)
		}
		return err
	})
}

func readOperatorSetID(data []byte, op *OperatorSetID) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			op.Domain = f.str()
		case 2:
			op.Version = f.i64()
		}
		return nil
	})
}

func readStringStringEntry(data []byte, e *StringStringEntry) error {
	return walk(data, func(f field) error {
		switch f.num {
		case 1:
			e.Key = f.str()
		case 2:
			e.Value = f.str()
		}
		return nil
	})
}
