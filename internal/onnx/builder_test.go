package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// msg assembles protobuf messages for tests.
type msg []byte

func (m msg) str(num protowire.Number, s string) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, s)
}

func (m msg) varint(num protowire.Number, v int64) msg {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, uint64(v))
}

func (m msg) sub(num protowire.Number, child msg) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, child)
}

func (m msg) fixed32(num protowire.Number, f float32) msg {
	m = protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(m, math.Float32bits(f))
}

func (m msg) packed(num protowire.Number, vals ...int64) msg {
	var body []byte
	for _, v := range vals {
		body = protowire.AppendVarint(body, uint64(v))
	}
	return m.sub(num, body)
}

// floatTensor encodes a float32 TensorProto with raw little-endian data.
func floatTensor(name string, dims []int64, vals ...float32) msg {
	var t msg
	for _, d := range dims {
		t = t.varint(1, d)
	}
	t = t.varint(2, TensorProtoFloat)
	t = t.str(8, name)
	var raw []byte
	for _, v := range vals {
		raw = protowire.AppendFixed32(raw, math.Float32bits(v))
	}
	return t.sub(9, raw)
}

// int64Tensor encodes an int64 TensorProto with packed int64_data.
func int64Tensor(name string, vals ...int64) msg {
	var t msg
	t = t.varint(1, int64(len(vals)))
	t = t.varint(2, TensorProtoInt64)
	t = t.str(8, name)
	return t.packed(7, vals...)
}

func intsAttr(name string, vals ...int64) msg {
	return msg(nil).str(1, name).varint(20, AttributeProtoInts).packed(8, vals...)
}

func intAttr(name string, v int64) msg {
	return msg(nil).str(1, name).varint(20, AttributeProtoInt).varint(3, v)
}

func floatAttr(name string, v float32) msg {
	return msg(nil).str(1, name).varint(20, AttributeProtoFloat).fixed32(2, v)
}

func tensorAttr(name string, t msg) msg {
	return msg(nil).str(1, name).varint(20, AttributeProtoTensor).sub(5, t)
}

func node(op, name string, inputs, outputs []string, attrs ...msg) msg {
	var n msg
	for _, in := range inputs {
		n = n.str(1, in)
	}
	for _, out := range outputs {
		n = n.str(2, out)
	}
	n = n.str(3, name).str(4, op)
	for _, a := range attrs {
		n = n.sub(5, a)
	}
	return n
}

func valueInfo(name string, dims ...int64) msg {
	var shape msg
	for _, d := range dims {
		var dim msg
		if d < 0 {
			dim = dim.str(2, "batch")
		} else {
			dim = dim.varint(1, d)
		}
		shape = shape.sub(1, dim)
	}
	tensorType := msg(nil).varint(1, TensorProtoFloat).sub(2, shape)
	return msg(nil).str(1, name).sub(2, msg(nil).sub(1, tensorType))
}

type graphSpec struct {
	nodes        []msg
	initializers []msg
	inputs       []msg
	outputs      []msg
	opset        int64 // 13 when zero
}

func model(g graphSpec) []byte {
	var gm msg
	for _, n := range g.nodes {
		gm = gm.sub(1, n)
	}
	gm = gm.str(2, "test")
	for _, t := range g.initializers {
		gm = gm.sub(5, t)
	}
	for _, in := range g.inputs {
		gm = gm.sub(11, in)
	}
	for _, out := range g.outputs {
		gm = gm.sub(12, out)
	}

	var m msg
	m = m.varint(1, 7)
	m = m.str(2, "infer-test")
	m = m.str(3, "0.1")
	m = m.varint(5, 3)
	m = m.sub(7, gm)
	opset := g.opset
	if opset == 0 {
		opset = 13
	}
	m = m.sub(8, msg(nil).str(1, "").varint(2, opset))
	m = m.sub(14, msg(nil).str(1, "author").str(2, "tests"))
	return m
}

// convNet is X[1,1,4,4] -> Conv(2x2 ones, bias -20) -> Relu -> MaxPool 2x2
// -> Flatten -> Gemm(transB, picks elements 0 and 3, bias [0.5, -1]).
func convNet() []byte {
	return model(graphSpec{
		nodes: []msg{
			node("Conv", "conv", []string{"X", "W", "B"}, []string{"c"},
				intsAttr("kernel_shape", 2, 2), intsAttr("strides", 1, 1), intsAttr("pads", 0, 0, 0, 0)),
			node("Relu", "relu", []string{"c"}, []string{"r"}),
			node("MaxPool", "pool", []string{"r"}, []string{"p"},
				intsAttr("kernel_shape", 2, 2), intsAttr("strides", 2, 2)),
			node("Flatten", "flat", []string{"p"}, []string{"f"}, intAttr("axis", 1)),
			node("Gemm", "fc", []string{"f", "FW", "FB"}, []string{"Y"},
				intAttr("transB", 1), floatAttr("alpha", 1)),
		},
		initializers: []msg{
			floatTensor("W", []int64{1, 1, 2, 2}, 1, 1, 1, 1),
			floatTensor("B", []int64{1}, -20),
			floatTensor("FW", []int64{2, 4}, 1, 0, 0, 0, 0, 0, 0, 1),
			floatTensor("FB", []int64{2}, 0.5, -1),
		},
		inputs:  []msg{valueInfo("X", -1, 1, 4, 4)},
		outputs: []msg{valueInfo("Y", -1, 2)},
	})
}
