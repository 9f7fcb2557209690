package engine

import (
	"fmt"

	"github.com/openfroyo/symgraph/pkg/graph"
)

// recipientSets maps a node name to the names of its distinct consumers.
type recipientSets map[string]map[string]struct{}

func (r recipientSets) add(input, consumer string) {
	set, ok := r[input]
	if !ok {
		set = make(map[string]struct{})
		r[input] = set
	}
	set[consumer] = struct{}{}
}

func (r recipientSets) merge(other recipientSets) {
	for input, consumers := range other {
		for consumer := range consumers {
			r.add(input, consumer)
		}
	}
}

func (r recipientSets) counts() map[string]int {
	out := make(map[string]int, len(r))
	for input, consumers := range r {
		out[input] = len(consumers)
	}
	return out
}

// frame is one level of the explicit traversal stack: a node and the
// index of the next input to visit.
type frame struct {
	node *graph.Node
	next int
}

// BuildPlan computes the evaluation order for fetches given the nodes
// already bound in feeds. Fed nodes are terminals: they are not traversed
// and not planned, but their consumers are counted.
//
// With several fetches each one is traversed independently and the results
// are concatenated in fetch order, keeping the first occurrence of a name.
func BuildPlan(fetches []*graph.Node, feeds *FeedDict) (*Plan, error) {
	if len(fetches) == 0 {
		return nil, NewInvariantError("cannot plan an execution with no fetches")
	}
	for i, f := range fetches {
		if f == nil {
			return nil, NewInvariantError(fmt.Sprintf("fetch %d is nil", i))
		}
	}

	if len(fetches) == 1 {
		sorted, recipients, err := traverse(fetches[0], feeds)
		if err != nil {
			return nil, err
		}
		return &Plan{Sorted: sorted, RecipientCounts: recipients.counts()}, nil
	}

	var sorted []*graph.Node
	seen := make(map[string]bool)
	recipients := make(recipientSets)
	for _, fetch := range fetches {
		nodes, r, err := traverse(fetch, feeds)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if seen[n.Name()] {
				continue
			}
			seen[n.Name()] = true
			sorted = append(sorted, n)
		}
		recipients.merge(r)
	}

	return &Plan{Sorted: sorted, RecipientCounts: recipients.counts()}, nil
}

// traverse runs an iterative post-order DFS from fetch. The stack depth is
// bounded by the heap, not the goroutine stack, so deep graphs are safe.
func traverse(fetch *graph.Node, feeds *FeedDict) ([]*graph.Node, recipientSets, error) {
	recipients := make(recipientSets)
	if feeds.HasName(fetch.Name()) {
		return nil, recipients, nil
	}

	var sorted []*graph.Node
	visited := map[int64]bool{fetch.ID(): true}
	onStack := map[int64]bool{fetch.ID(): true}
	stack := []frame{{node: fetch}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		inputs := top.node.Inputs()

		if top.next == len(inputs) {
			sorted = append(sorted, top.node)
			delete(onStack, top.node.ID())
			stack = stack[:len(stack)-1]
			continue
		}

		input := inputs[top.next]
		top.next++
		recipients.add(input.Name(), top.node.Name())

		if feeds.HasName(input.Name()) || visited[input.ID()] {
			if onStack[input.ID()] {
				return nil, nil, NewInvariantError(fmt.Sprintf(
					"cycle detected: %q depends on itself through %q", input.Name(), top.node.Name())).
					WithNode(input.Name())
			}
			continue
		}

		visited[input.ID()] = true
		onStack[input.ID()] = true
		stack = append(stack, frame{node: input})
	}

	return sorted, recipients, nil
}
