package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/symgraph/pkg/config"
	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/ops"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// ErrCycle is returned when the nodes of a document depend on each other.
var ErrCycle = errors.New("circular dependency")

// Model is a graph built from a document.
type Model struct {
	Document *config.GraphDocument
	Graph    *graph.Graph

	// Fetches are the document's default fetches.
	Fetches []*graph.Node

	// Levels groups the declared operation nodes by dependency depth, in
	// document order within a level.
	Levels [][]string

	variables []*ops.Variable
}

// Resolve looks up node references. An empty list resolves to the default
// fetches.
func (m *Model) Resolve(refs []string) ([]*graph.Node, error) {
	if len(refs) == 0 {
		if len(m.Fetches) == 0 {
			return nil, fmt.Errorf("graph %s declares no default fetches", m.Graph.Name())
		}
		return append([]*graph.Node(nil), m.Fetches...), nil
	}

	nodes := make([]*graph.Node, len(refs))
	for i, ref := range refs {
		n, err := m.node(ref)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func (m *Model) node(ref string) (*graph.Node, error) {
	if n, ok := m.Graph.Node(ref); ok {
		return n, nil
	}
	if op, ok := m.Graph.Operation(ref); ok && op.NumInvocations() > 0 {
		if outputs := op.Invocations()[0]; len(outputs) > 1 {
			return nil, fmt.Errorf("node %q has %d outputs, reference one as %q", ref, len(outputs), ref+":0")
		}
	}
	return nil, fmt.Errorf("graph %s has no node %q", m.Graph.Name(), ref)
}

// Variables returns the variable kernels created for the graph.
func (m *Model) Variables() []*ops.Variable {
	return m.variables
}

// Release disposes the values held by the graph's variables.
func (m *Model) Release() {
	for _, v := range m.variables {
		v.Release()
	}
	m.variables = nil
}

// Builder turns graph documents into graphs.
type Builder struct {
	registry *ops.Registry
	logger   zerolog.Logger
}

// NewBuilder creates a builder. A nil registry uses ops.Builtin().
func NewBuilder(registry *ops.Registry, logger zerolog.Logger) *Builder {
	if registry == nil {
		registry = ops.Builtin()
	}
	return &Builder{
		registry: registry,
		logger:   logger.With().Str("component", "graph-loader").Logger(),
	}
}

// Build validates the document, orders its nodes and constructs the graph.
// Operations are named after their document nodes.
func (b *Builder) Build(doc *config.GraphDocument) (*Model, error) {
	if doc == nil {
		return nil, fmt.Errorf("graph document is required")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	deps := newDependencies(doc)
	if cycle := deps.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, formatCycle(cycle))
	}
	levels, err := deps.levels()
	if err != nil {
		return nil, err
	}

	model := &Model{
		Document: doc,
		Graph:    graph.New(doc.Name),
		Levels:   levels,
	}

	for _, in := range doc.Inputs {
		spec := graph.Spec{Shape: graph.Shape(in.Shape), DType: tensor.DType(in.DType)}
		if _, err := model.Graph.Input(in.Name, spec); err != nil {
			model.Release()
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
	}

	for _, level := range levels {
		for _, name := range level {
			if err := b.addNode(model, deps.nodes[name]); err != nil {
				model.Release()
				return nil, err
			}
		}
	}

	if len(doc.Fetches) > 0 {
		fetches, err := model.Resolve(doc.Fetches)
		if err != nil {
			model.Release()
			return nil, err
		}
		model.Fetches = fetches
	}

	b.logger.Debug().
		Str("graph", doc.Name).
		Int("inputs", len(doc.Inputs)).
		Int("nodes", len(doc.Nodes)).
		Int("levels", len(levels)).
		Msg("Graph built")

	return model, nil
}

func (b *Builder) addNode(model *Model, nd config.NodeDocument) error {
	kernel, err := b.registry.Build(nd.Op, ops.Attrs(nd.Attrs))
	if err != nil {
		return fmt.Errorf("node %s: %w", nd.Name, err)
	}
	if v, ok := kernel.(*ops.Variable); ok {
		model.variables = append(model.variables, v)
	}

	inputs := make([]*graph.Node, len(nd.Inputs))
	for i, ref := range nd.Inputs {
		n, err := model.node(ref)
		if err != nil {
			return fmt.Errorf("node %s: %w", nd.Name, err)
		}
		inputs[i] = n
	}

	op, err := model.Graph.NewOperation(nd.Name, kernel)
	if err != nil {
		return fmt.Errorf("node %s: %w", nd.Name, err)
	}
	if _, err := model.Graph.Call(op, inputs...); err != nil {
		return fmt.Errorf("node %s: %w", nd.Name, err)
	}
	return nil
}

// dependencies is the node-level dependency graph of a document. Inputs
// are not part of it.
type dependencies struct {
	order         []string
	nodes         map[string]config.NodeDocument
	inDegree      map[string]int
	adjacencyList map[string][]string
}

func newDependencies(doc *config.GraphDocument) *dependencies {
	d := &dependencies{
		order:         make([]string, 0, len(doc.Nodes)),
		nodes:         make(map[string]config.NodeDocument, len(doc.Nodes)),
		inDegree:      make(map[string]int, len(doc.Nodes)),
		adjacencyList: make(map[string][]string, len(doc.Nodes)),
	}
	for _, n := range doc.Nodes {
		d.order = append(d.order, n.Name)
		d.nodes[n.Name] = n
		d.inDegree[n.Name] = 0
	}

	for _, n := range doc.Nodes {
		seen := make(map[string]bool, len(n.Inputs))
		for _, ref := range n.Inputs {
			dep, _ := config.SplitRef(ref)
			if _, isNode := d.nodes[dep]; !isNode || seen[dep] {
				continue
			}
			seen[dep] = true
			d.adjacencyList[dep] = append(d.adjacencyList[dep], n.Name)
			d.inDegree[n.Name]++
		}
	}
	return d
}

// findCycle returns the nodes of a cycle, first node repeated last, or nil.
func (d *dependencies) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range d.order {
		if !visited[id] {
			if cycle := d.findCycleFrom(id, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (d *dependencies) findCycleFrom(id string, visited, recStack map[string]bool, path []string) []string {
	visited[id] = true
	recStack[id] = true
	path = append(path, id)

	for _, dependent := range d.adjacencyList[id] {
		if !visited[dependent] {
			if cycle := d.findCycleFrom(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, p := range path {
				if p == dependent {
					return append(append([]string(nil), path[i:]...), dependent)
				}
			}
		}
	}

	recStack[id] = false
	return nil
}

// levels orders the nodes with Kahn's algorithm, one level per round.
func (d *dependencies) levels() ([][]string, error) {
	inDegree := make(map[string]int, len(d.inDegree))
	for id, degree := range d.inDegree {
		inDegree[id] = degree
	}

	var current []string
	for _, id := range d.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range d.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(d.order) {
		return nil, fmt.Errorf("%w: %d of %d nodes could not be ordered", ErrCycle, len(d.order)-processed, len(d.order))
	}
	return levels, nil
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
