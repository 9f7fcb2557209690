package engine

import (
	"github.com/openfroyo/symgraph/pkg/graph"
)

// Plan is a topologically ordered node sequence with the number of distinct
// consumers of each node inside the fetch closure. Plans are shared between
// executions and must not be mutated.
type Plan struct {
	// Sorted lists every node to evaluate, dependencies first. Fed nodes
	// are never included.
	Sorted []*graph.Node

	// RecipientCounts maps a node name to its distinct direct consumers
	// among the planned nodes.
	RecipientCounts map[string]int
}

// CountsCopy returns a mutable copy of the recipient counts.
func (p *Plan) CountsCopy() map[string]int {
	out := make(map[string]int, len(p.RecipientCounts))
	for name, n := range p.RecipientCounts {
		out[name] = n
	}
	return out
}

// Len returns the number of planned nodes.
func (p *Plan) Len() int {
	return len(p.Sorted)
}

// Names returns the planned node names in execution order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Sorted))
	for i, n := range p.Sorted {
		names[i] = n.Name()
	}
	return names
}

// Levels returns, for every planned node, the length of the longest chain
// of planned dependencies below it. Nodes with no planned inputs are at
// level 0; nodes on the same level do not depend on each other.
func (p *Plan) Levels() map[string]int {
	levels := make(map[string]int, len(p.Sorted))
	for _, n := range p.Sorted {
		level := 0
		for _, in := range n.Inputs() {
			if l, ok := levels[in.Name()]; ok && l+1 > level {
				level = l + 1
			}
		}
		levels[n.Name()] = level
	}
	return levels
}

// Depth returns the number of distinct levels.
func (p *Plan) Depth() int {
	depth := 0
	for _, l := range p.Levels() {
		if l+1 > depth {
			depth = l + 1
		}
	}
	return depth
}
