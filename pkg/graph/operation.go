package graph

import (
	"context"
	"fmt"

	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Operation is a named application site of a kernel. Every Call on the
// graph records a new invocation with its own output nodes.
type Operation struct {
	name        string
	kernel      Kernel
	graph       *Graph
	invocations [][]*Node
}

// Name returns the graph-unique operation name.
func (o *Operation) Name() string {
	return o.name
}

// Type returns the kernel type, or "Input" for input operations.
func (o *Operation) Type() string {
	if o.kernel == nil {
		return "Input"
	}
	return o.kernel.Type()
}

// Kernel returns the kernel, nil for input operations.
func (o *Operation) Kernel() Kernel {
	return o.kernel
}

// IsInput reports whether this operation only declares an input terminal.
func (o *Operation) IsInput() bool {
	return o.kernel == nil
}

// Stateful reports whether the kernel owns its outputs.
func (o *Operation) Stateful() bool {
	s, ok := o.kernel.(Stateful)
	return ok && s.Stateful()
}

// SupportsMasking reports whether the kernel propagates masks.
func (o *Operation) SupportsMasking() bool {
	_, ok := o.kernel.(Masker)
	return ok
}

// Apply runs the kernel on concrete inputs.
func (o *Operation) Apply(ctx context.Context, inputs []tensor.Value, kwargs Kwargs) ([]tensor.Value, error) {
	if o.kernel == nil {
		return nil, fmt.Errorf("input operation %q cannot be applied", o.name)
	}
	return o.kernel.Apply(ctx, inputs, kwargs)
}

// ComputeMask returns the output masks, or nil when the kernel does not mask.
func (o *Operation) ComputeMask(inputs []tensor.Value, masks []tensor.Value) ([]tensor.Value, error) {
	m, ok := o.kernel.(Masker)
	if !ok {
		return nil, nil
	}
	return m.ComputeMask(inputs, masks)
}

// NumInvocations returns how many times the operation has been called.
func (o *Operation) NumInvocations() int {
	o.graph.mu.RLock()
	defer o.graph.mu.RUnlock()
	return len(o.invocations)
}

// Invocations returns the output groups of every invocation in call order.
func (o *Operation) Invocations() [][]*Node {
	o.graph.mu.RLock()
	defer o.graph.mu.RUnlock()

	out := make([][]*Node, len(o.invocations))
	for i, group := range o.invocations {
		out[i] = append([]*Node(nil), group...)
	}
	return out
}

// OutputsOf returns the output group of the invocation that produced n.
// With a single invocation its outputs are returned directly; otherwise the
// group containing n's identity is selected.
func (o *Operation) OutputsOf(n *Node) ([]*Node, error) {
	o.graph.mu.RLock()
	defer o.graph.mu.RUnlock()

	if len(o.invocations) == 1 {
		return o.invocations[0], nil
	}
	for _, group := range o.invocations {
		for _, candidate := range group {
			if candidate.id == n.id {
				return group, nil
			}
		}
	}
	return nil, fmt.Errorf("node %q is not an output of operation %q", n.name, o.name)
}
