package graph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateName is returned when a node or operation name is already taken.
	ErrDuplicateName = errors.New("name already in use")

	// ErrForeignNode is returned when a node from another graph is used as an input.
	ErrForeignNode = errors.New("node belongs to another graph")

	// ErrArity is returned when a kernel produces an unexpected number of outputs.
	ErrArity = errors.New("unexpected number of outputs")
)

// nextNodeID hands out process-unique node identities.
var nextNodeID atomic.Int64

// Graph is a construction session. Nodes created through it get unique
// names and carry the session ID in their fingerprints.
// It is safe for concurrent use.
type Graph struct {
	id   string
	name string

	mu         sync.RWMutex
	nodes      []*Node
	byName     map[string]*Node
	ops        map[string]*Operation
	typeCounts map[string]int
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		id:         uuid.New().String(),
		name:       name,
		byName:     make(map[string]*Node),
		ops:        make(map[string]*Operation),
		typeCounts: make(map[string]int),
	}
}

// ID returns the session identifier.
func (g *Graph) ID() string {
	return g.id
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Input declares an input terminal.
func (g *Graph) Input(name string, spec Spec) (*Node, error) {
	if name == "" {
		return nil, errors.New("input name is required")
	}
	if spec.DType != "" {
		if err := spec.DType.Validate(); err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
	}
	for i, d := range spec.Shape {
		if d < 0 && d != Wildcard {
			return nil, fmt.Errorf("input %q: invalid dimension %d at index %d", name, d, i)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.ops[name]; exists {
		return nil, fmt.Errorf("%w: operation %q", ErrDuplicateName, name)
	}
	if _, exists := g.byName[name]; exists {
		return nil, fmt.Errorf("%w: node %q", ErrDuplicateName, name)
	}

	op := &Operation{name: name, graph: g}
	n := &Node{
		id:      nextNodeID.Add(1),
		name:    name,
		spec:    Spec{Shape: spec.Shape.Clone(), DType: spec.DType},
		kind:    KindInput,
		op:      op,
		graphID: g.id,
	}
	n.fingerprint = fingerprintOf(g.id, KindInput, op.Type(), name, 0, nil)

	op.invocations = [][]*Node{{n}}
	g.ops[name] = op
	g.register(n)
	return n, nil
}

// NewOperation registers an operation. An empty name is replaced by
// "<type>_<n>" using a per-type counter.
func (g *Graph) NewOperation(name string, kernel Kernel) (*Operation, error) {
	if kernel == nil {
		return nil, errors.New("kernel is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if name == "" {
		for {
			g.typeCounts[kernel.Type()]++
			name = fmt.Sprintf("%s_%d", kernel.Type(), g.typeCounts[kernel.Type()])
			if _, taken := g.ops[name]; !taken {
				break
			}
		}
	}
	if _, exists := g.ops[name]; exists {
		return nil, fmt.Errorf("%w: operation %q", ErrDuplicateName, name)
	}

	op := &Operation{name: name, kernel: kernel, graph: g}
	g.ops[name] = op
	return op, nil
}

// Call invokes op on the given inputs and returns the new output nodes.
// Outputs of the first invocation are named after the operation; later
// invocations append "_<k>". Multi-output invocations suffix ":<i>".
func (g *Graph) Call(op *Operation, inputs ...*Node) ([]*Node, error) {
	if op == nil || op.graph != g {
		return nil, errors.New("operation does not belong to this graph")
	}
	if op.IsInput() {
		return nil, fmt.Errorf("input operation %q cannot be called", op.name)
	}

	specs := make([]Spec, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("input %d of %q is nil", i, op.name)
		}
		if in.graphID != g.id {
			return nil, fmt.Errorf("%w: %q used by %q", ErrForeignNode, in.name, op.name)
		}
		specs[i] = in.spec
	}

	outSpecs, err := op.kernel.InferOutputs(specs)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op.Type(), op.name, err)
	}
	if len(outSpecs) == 0 {
		return nil, fmt.Errorf("%w: %s %q declares no outputs", ErrArity, op.Type(), op.name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	invocation := len(op.invocations)
	base := op.name
	if invocation > 0 {
		base = fmt.Sprintf("%s_%d", op.name, invocation)
	}

	names := make([]string, len(outSpecs))
	for i := range outSpecs {
		names[i] = base
		if len(outSpecs) > 1 {
			names[i] = fmt.Sprintf("%s:%d", base, i)
		}
		if _, exists := g.byName[names[i]]; exists {
			return nil, fmt.Errorf("%w: node %q", ErrDuplicateName, names[i])
		}
	}

	deps := append([]*Node(nil), inputs...)
	outputs := make([]*Node, len(outSpecs))
	for i, spec := range outSpecs {
		n := &Node{
			id:          nextNodeID.Add(1),
			name:        names[i],
			spec:        Spec{Shape: spec.Shape.Clone(), DType: spec.DType},
			kind:        KindComputed,
			op:          op,
			inputs:      deps,
			invocation:  invocation,
			outputIndex: i,
			graphID:     g.id,
		}
		n.fingerprint = fingerprintOf(g.id, KindComputed, op.Type(), n.name, i, deps)
		outputs[i] = n
		g.register(n)
	}

	op.invocations = append(op.invocations, outputs)
	return append([]*Node(nil), outputs...), nil
}

// Apply registers an anonymous operation for kernel, calls it once, and
// returns its single output.
func (g *Graph) Apply(kernel Kernel, inputs ...*Node) (*Node, error) {
	return g.ApplyNamed("", kernel, inputs...)
}

// ApplyNamed is Apply with an explicit operation name.
func (g *Graph) ApplyNamed(name string, kernel Kernel, inputs ...*Node) (*Node, error) {
	op, err := g.NewOperation(name, kernel)
	if err != nil {
		return nil, err
	}
	outputs, err := g.Call(op, inputs...)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%w: %s %q produced %d outputs, use Call",
			ErrArity, op.Type(), op.name, len(outputs))
	}
	return outputs[0], nil
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byName[name]
	return n, ok
}

// Operation looks up an operation by name.
func (g *Graph) Operation(name string) (*Operation, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	op, ok := g.ops[name]
	return op, ok
}

// Nodes returns every node in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Node(nil), g.nodes...)
}

// Inputs returns the input terminals in creation order.
func (g *Graph) Inputs() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, n := range g.nodes {
		if n.kind == KindInput {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) register(n *Node) {
	g.nodes = append(g.nodes, n)
	g.byName[n.name] = n
}
