package engine

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/ops"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

func TestBuildPlan_Diamond(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	plan, err := BuildPlan([]*graph.Node{dm.d}, feeds)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	if got := planNames(plan); got != "[B C D]" {
		t.Errorf("Sorted = %s, want [B C D]", got)
	}
	want := map[string]int{"A": 2, "B": 1, "C": 1}
	if len(plan.RecipientCounts) != len(want) {
		t.Errorf("RecipientCounts = %v, want %v", plan.RecipientCounts, want)
	}
	for name, n := range want {
		if plan.RecipientCounts[name] != n {
			t.Errorf("RecipientCounts[%s] = %d, want %d", name, plan.RecipientCounts[name], n)
		}
	}

	levels := plan.Levels()
	if levels["B"] != 0 || levels["C"] != 0 || levels["D"] != 1 {
		t.Errorf("Levels() = %v", levels)
	}
	if plan.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", plan.Depth())
	}
}

func TestBuildPlan_RequiresFetches(t *testing.T) {
	if _, err := BuildPlan(nil, mustFeeds(t)); !IsInvariantError(err) {
		t.Errorf("BuildPlan(nil) error = %v, want InvariantError", err)
	}
	if _, err := BuildPlan([]*graph.Node{nil}, mustFeeds(t)); !IsInvariantError(err) {
		t.Errorf("BuildPlan([nil]) error = %v, want InvariantError", err)
	}
}

func TestBuildPlan_RepeatedInputCountsOnce(t *testing.T) {
	g := graph.New("square")
	x := mustInput(t, g, "x", graph.Shape{2})
	b := mustApply(t, g, "b", ops.NewRelu(), x)
	sq := mustApply(t, g, "sq", ops.NewMul(), b, b)

	plan, err := BuildPlan([]*graph.Node{sq}, mustFeeds(t))
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if plan.RecipientCounts["b"] != 1 {
		t.Errorf("RecipientCounts[b] = %d, want 1", plan.RecipientCounts["b"])
	}
	if got := planNames(plan); got != "[x b sq]" {
		t.Errorf("Sorted = %s, want [x b sq]", got)
	}
}

func TestBuildPlan_MultiFetchDeduplicates(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	plan, err := BuildPlan([]*graph.Node{dm.c, dm.d, dm.b, dm.d}, feeds)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if got := planNames(plan); got != "[C B D]" {
		t.Errorf("Sorted = %s, want [C B D]", got)
	}
	if plan.RecipientCounts["A"] != 2 {
		t.Errorf("RecipientCounts[A] = %d, want 2", plan.RecipientCounts["A"])
	}
}

func TestBuildPlan_FedNodesAreTerminals(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)

	fedFetch := mustFeeds(t, Feed{Node: dm.d, Value: newValue(t, pool, []int{3}, 0, 0, 0)})
	plan, err := BuildPlan([]*graph.Node{dm.d}, fedFetch)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if plan.Len() != 0 {
		t.Errorf("plan for a fed fetch = %s, want empty", planNames(plan))
	}

	fedMiddle := mustFeeds(t, Feed{Node: dm.b, Value: newValue(t, pool, []int{3}, 0, 0, 0)})
	plan, err = BuildPlan([]*graph.Node{dm.d}, fedMiddle)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if got := planNames(plan); got != "[A C D]" {
		t.Errorf("Sorted = %s, want [A C D]", got)
	}
	if plan.RecipientCounts["B"] != 1 || plan.RecipientCounts["A"] != 1 {
		t.Errorf("RecipientCounts = %v, want B and A consumed once", plan.RecipientCounts)
	}
}

func TestBuildPlan_DeepChain(t *testing.T) {
	g := graph.New("chain")
	node := mustInput(t, g, "x", graph.Shape{1})
	x := node
	const depth = 20000
	for i := 0; i < depth; i++ {
		node = mustApply(t, g, fmt.Sprintf("relu_%d", i), ops.NewRelu(), node)
	}

	pool := tensor.NewPool()
	plan, err := BuildPlan([]*graph.Node{node}, mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{1}, 1)}))
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if plan.Len() != depth {
		t.Errorf("Len() = %d, want %d", plan.Len(), depth)
	}
	if plan.Sorted[0].Name() != "relu_0" || plan.Sorted[depth-1] != node {
		t.Errorf("chain is not in dependency order")
	}
}

// TestBuildPlan_RandomGraphs checks ordering, uniqueness and recipient
// counts against a direct computation on random DAGs.
func TestBuildPlan_RandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := tensor.NewPool()

	for trial := 0; trial < 50; trial++ {
		g := graph.New(fmt.Sprintf("random_%d", trial))
		var nodes []*graph.Node
		for i := 0; i < 3; i++ {
			nodes = append(nodes, mustInput(t, g, fmt.Sprintf("in%d", i), graph.Shape{2}))
		}
		for i := 0; i < 25; i++ {
			a := nodes[rng.Intn(len(nodes))]
			var n *graph.Node
			if rng.Intn(3) == 0 {
				n = mustApply(t, g, fmt.Sprintf("n%d", i), ops.NewRelu(), a)
			} else {
				b := nodes[rng.Intn(len(nodes))]
				n = mustApply(t, g, fmt.Sprintf("n%d", i), ops.NewAdd(), a, b)
			}
			nodes = append(nodes, n)
		}

		feeds := mustFeeds(t)
		for _, n := range nodes {
			if n.IsInput() || rng.Intn(8) == 0 {
				if err := feeds.Add(n, newValue(t, pool, []int{2}, 1, 2)); err != nil {
					t.Fatalf("Add() error = %v", err)
				}
			}
		}

		var fetches []*graph.Node
		for i := 0; i < 1+rng.Intn(3); i++ {
			fetches = append(fetches, nodes[len(nodes)-1-rng.Intn(10)])
		}

		plan, err := BuildPlan(fetches, feeds)
		if err != nil {
			t.Fatalf("trial %d: BuildPlan() error = %v", trial, err)
		}

		position := make(map[string]int)
		for i, n := range plan.Sorted {
			if _, dup := position[n.Name()]; dup {
				t.Fatalf("trial %d: %s planned twice", trial, n.Name())
			}
			if feeds.HasKey(n) {
				t.Fatalf("trial %d: fed node %s was planned", trial, n.Name())
			}
			position[n.Name()] = i
		}

		wantCounts := make(map[string]map[string]bool)
		for i, n := range plan.Sorted {
			for _, in := range n.Inputs() {
				if p, ok := position[in.Name()]; !(ok && p < i) && !feeds.HasKey(in) {
					t.Fatalf("trial %d: input %s of %s is neither earlier nor fed", trial, in.Name(), n.Name())
				}
				if wantCounts[in.Name()] == nil {
					wantCounts[in.Name()] = make(map[string]bool)
				}
				wantCounts[in.Name()][n.Name()] = true
			}
		}
		for name, consumers := range wantCounts {
			if plan.RecipientCounts[name] != len(consumers) {
				t.Fatalf("trial %d: RecipientCounts[%s] = %d, want %d",
					trial, name, plan.RecipientCounts[name], len(consumers))
			}
		}
		if len(plan.RecipientCounts) != len(wantCounts) {
			t.Fatalf("trial %d: %d counted nodes, want %d", trial, len(plan.RecipientCounts), len(wantCounts))
		}
	}
}

func TestPlanToDOT(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	plan, err := BuildPlan([]*graph.Node{dm.d}, feeds)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}

	dot := PlanToDOT(plan, feeds)
	for _, want := range []string{
		"digraph ExecutionPlan",
		"cluster_level_0",
		"cluster_level_1",
		`"A" [label="A", shape=ellipse`,
		`"B" -> "D" [label="0"]`,
		`"C" -> "D" [label="1"]`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}
