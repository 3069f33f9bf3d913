package onnx

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/tensor"
)

func TestParse_Model(t *testing.T) {
	m, err := Parse(convNet())
	require.NoError(t, err)

	assert.Equal(t, int64(7), m.IRVersion)
	assert.Equal(t, "infer-test", m.ProducerName)
	assert.Equal(t, "0.1", m.ProducerVersion)
	assert.Equal(t, int64(3), m.ModelVersion)
	require.Len(t, m.OpsetImport, 1)
	assert.Equal(t, int64(13), m.OpsetImport[0].Version)
	assert.Equal(t, []StringStringEntry{{Key: "author", Value: "tests"}}, m.MetadataProps)

	g := m.Graph
	require.NotNil(t, g)
	assert.Equal(t, "test", g.Name)
	require.Len(t, g.Nodes, 5)
	require.Len(t, g.Initializers, 4)

	conv := g.Nodes[0]
	assert.Equal(t, "Conv", conv.OpType)
	assert.Equal(t, "conv", conv.Name)
	assert.Equal(t, []string{"X", "W", "B"}, conv.Inputs)
	assert.Equal(t, []string{"c"}, conv.Outputs)
	require.Len(t, conv.Attributes, 3)
	assert.Equal(t, "kernel_shape", conv.Attributes[0].Name)
	assert.Equal(t, int32(AttributeProtoInts), conv.Attributes[0].Type)
	assert.Equal(t, []int64{2, 2}, conv.Attributes[0].Ints)

	fc := g.Nodes[4]
	require.Len(t, fc.Attributes, 2)
	assert.Equal(t, int64(1), fc.Attributes[0].I)
	assert.InDelta(t, 1, fc.Attributes[1].F, 1e-9)

	w := g.Initializers[0]
	assert.Equal(t, "W", w.Name)
	assert.Equal(t, int32(TensorProtoFloat), w.DataType)
	assert.Equal(t, []int64{1, 1, 2, 2}, w.Dims)
	assert.Len(t, w.RawData, 16)

	require.Len(t, g.Inputs, 1)
	assert.Equal(t, "X", g.Inputs[0].Name)
	assert.Equal(t, int32(TensorProtoFloat), g.Inputs[0].ElemType)
	assert.Equal(t, []int64{-1, 1, 4, 4}, g.Inputs[0].Dims)
}

func TestParse_PackedAndUnpacked(t *testing.T) {
	unpacked := msg(nil).str(1, "k").varint(20, AttributeProtoInts).varint(8, 3).varint(8, 4)
	packed := intsAttr("k", 3, 4)

	for _, enc := range []msg{unpacked, packed} {
		var a AttributeProto
		require.NoError(t, readAttribute(enc, &a))
		assert.Equal(t, []int64{3, 4}, a.Ints)
	}

	var tp TensorProto
	require.NoError(t, readTensor(int64Tensor("axes", 1, -1), &tp))
	assert.Equal(t, []int64{2}, tp.Dims)
	assert.Equal(t, []int64{1, -1}, tp.Int64Data)
}

func TestParse_Malformed(t *testing.T) {
	good := convNet()
	for _, data := range [][]byte{
		good[:len(good)-3],
		{0x0a, 0x05, 0x01},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	} {
		_, err := Parse(data)
		require.ErrorIs(t, err, tensor.ErrInvalidArgument)
	}
}

func TestParseFileAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.onnx")
	require.NoError(t, os.WriteFile(path, convNet(), 0o600))

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Graph.Nodes, 5)

	m, err = ParseReader(bytes.NewReader(convNet()))
	require.NoError(t, err)
	assert.Len(t, m.Graph.Nodes, 5)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	require.Error(t, err)
}
