package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/symgraph/pkg/graph"
)

// PlanToDOT renders a plan in Graphviz DOT format. Planned nodes are
// grouped by level; fed nodes are drawn as grey terminals.
func PlanToDOT(plan *Plan, feeds *FeedDict) string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	levels := plan.Levels()
	byLevel := make([][]*graph.Node, plan.Depth())
	for _, n := range plan.Sorted {
		l := levels[n.Name()]
		byLevel[l] = append(byLevel[l], n)
	}

	terminals := make(map[string]bool)
	for _, n := range plan.Sorted {
		for _, in := range n.Inputs() {
			if _, planned := levels[in.Name()]; !planned {
				terminals[in.Name()] = true
			}
		}
	}
	if len(terminals) > 0 {
		names := make([]string, 0, len(terminals))
		for name := range terminals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			label := name
			if !feeds.HasName(name) {
				label += "\\n(unbound)"
			}
			sb.WriteString(fmt.Sprintf("  %q [label=\"%s\", shape=ellipse, fillcolor=\"lightgray\", style=filled];\n",
				name, label))
		}
		sb.WriteString("\n")
	}

	for level, nodes := range byLevel {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, n := range nodes {
			label := fmt.Sprintf("%s\\n%s", n.Name(), n.Operation().Type())
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				n.Name(), label, operationColor(n.Operation())))
		}

		sb.WriteString("  }\n\n")
	}

	for _, n := range plan.Sorted {
		for i, in := range n.Inputs() {
			sb.WriteString(fmt.Sprintf("  %q -> %q [label=\"%d\"];\n", in.Name(), n.Name(), i))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func operationColor(op *graph.Operation) string {
	switch {
	case op.IsInput():
		return "lightgray"
	case op.Stateful():
		return "lightcoral"
	case op.SupportsMasking():
		return "lightblue"
	default:
		return "lightgreen"
	}
}
