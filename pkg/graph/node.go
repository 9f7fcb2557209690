package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Node is an immutable symbolic value in a graph.
type Node struct {
	id          int64
	name        string
	spec        Spec
	kind        Kind
	op          *Operation
	inputs      []*Node
	invocation  int
	outputIndex int
	graphID     string
	fingerprint uint64
}

// ID returns the process-unique identity of the node.
func (n *Node) ID() int64 {
	return n.id
}

// Name returns the graph-unique name of the node.
func (n *Node) Name() string {
	return n.name
}

// Spec returns the declared shape and dtype.
func (n *Node) Spec() Spec {
	return Spec{Shape: n.spec.Shape.Clone(), DType: n.spec.DType}
}

// Shape returns the declared shape, nil when undeclared.
func (n *Node) Shape() Shape {
	return n.spec.Shape.Clone()
}

// DType returns the declared dtype, empty when undeclared.
func (n *Node) DType() tensor.DType {
	return n.spec.DType
}

// Kind returns whether the node is an input terminal or computed.
func (n *Node) Kind() Kind {
	return n.kind
}

// IsInput reports whether the node is an input terminal.
func (n *Node) IsInput() bool {
	return n.kind == KindInput
}

// Operation returns the operation that produces the node.
func (n *Node) Operation() *Operation {
	return n.op
}

// Inputs returns the direct dependencies in declared order.
// The returned slice must not be modified.
func (n *Node) Inputs() []*Node {
	return n.inputs
}

// Invocation returns the index of the operation invocation that produced the node.
func (n *Node) Invocation() int {
	return n.invocation
}

// OutputIndex returns the position of the node among its invocation's outputs.
func (n *Node) OutputIndex() int {
	return n.outputIndex
}

// GraphID returns the ID of the graph session that created the node.
func (n *Node) GraphID() string {
	return n.graphID
}

// Fingerprint returns a structural hash of the node and its transitive inputs.
func (n *Node) Fingerprint() uint64 {
	return n.fingerprint
}

// String renders the node for logs.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s, %s)", n.name, n.op.Type(), n.spec)
}

// fingerprintOf hashes the node's identity within its graph together with the
// fingerprints of its inputs, so equal fingerprints imply equal closures.
func fingerprintOf(graphID string, kind Kind, opType, name string, outputIndex int, inputs []*Node) uint64 {
	d := xxhash.New()
	var buf [8]byte

	_, _ = d.WriteString(graphID)
	_, _ = d.Write([]byte{0, byte(kind)})
	_, _ = d.WriteString(opType)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(name)
	_, _ = d.Write([]byte{0})

	binary.LittleEndian.PutUint64(buf[:], uint64(outputIndex))
	_, _ = d.Write(buf[:])

	for _, in := range inputs {
		binary.LittleEndian.PutUint64(buf[:], in.fingerprint)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
