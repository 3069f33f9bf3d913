package operators

import "github.com/itlab-ai/infer/internal/tensor"

// Node is the importer's view of an ONNX node. It is a separate type from
// onnx.NodeProto so this package does not import its parent.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Attribute is a node attribute. Tensor-valued attributes are decoded
// before the node reaches a handler.
type Attribute struct {
	Name   string
	F      float32
	I      int64
	S      []byte
	T      *tensor.Tensor
	Floats []float32
	Ints   []int64
}

func (n *Node) attr(name string) (*Attribute, bool) {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i], true
		}
	}
	return nil, false
}

// HasAttr reports whether the attribute is set.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.attr(name)
	return ok
}

// AttrInt returns an integer attribute or def.
func (n *Node) AttrInt(name string, def int64) int64 {
	if a, ok := n.attr(name); ok {
		return a.I
	}
	return def
}

// AttrInts returns an integer list attribute as ints.
func (n *Node) AttrInts(name string) []int {
	a, ok := n.attr(name)
	if !ok {
		return nil
	}
	out := make([]int, len(a.Ints))
	for i, v := range a.Ints {
		out[i] = int(v)
	}
	return out
}

// AttrFloat returns a float attribute or def.
func (n *Node) AttrFloat(name string, def float32) float32 {
	if a, ok := n.attr(name); ok {
		return a.F
	}
	return def
}

// AttrString returns a string attribute or def.
func (n *Node) AttrString(name, def string) string {
	if a, ok := n.attr(name); ok {
		return string(a.S)
	}
	return def
}
