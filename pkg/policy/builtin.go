package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		fetchesDeclaredPolicy(),
		unusedNodesPolicy(),
		inputDTypesPolicy(),
		graphSizePolicy(),
	}
}

// fetchesDeclaredPolicy warns about graphs that cannot run without --fetch.
func fetchesDeclaredPolicy() Policy {
	return Policy{
		Name:        "fetches-declared",
		Description: "Graphs should declare default fetches",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"usability"},
		Rego: `package symgraph.policies.fetches

import rego.v1

deny contains violation if {
	count(object.get(input.graph, "fetches", [])) == 0
	violation := {
		"message": sprintf("graph %s declares no default fetches", [input.graph.name]),
	}
}
`,
	}
}

// unusedNodesPolicy reports nodes whose value can never be observed.
func unusedNodesPolicy() Policy {
	return Policy{
		Name:        "unused-nodes",
		Description: "Every node should be consumed by another node or fetched",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"dead-code"},
		Rego: `package symgraph.policies.unused

import rego.v1

fetched(name) if {
	some ref in object.get(input.graph, "fetches", [])
	split(ref, ":")[0] == name
}

deny contains violation if {
	some node in object.get(input.graph, "nodes", [])
	not input.consumers[node.name]
	not fetched(node.name)
	violation := {
		"message": "node is never consumed or fetched",
		"node": node.name,
	}
}
`,
	}
}

// inputDTypesPolicy notes inputs that accept any dtype.
func inputDTypesPolicy() Policy {
	return Policy{
		Name:        "input-dtypes",
		Description: "Inputs without a dtype accept values of any dtype",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"typing"},
		Rego: `package symgraph.policies.dtypes

import rego.v1

deny contains violation if {
	some inp in input.graph.inputs
	not inp.dtype
	violation := {
		"message": "input declares no dtype; fed values are not cast",
		"node": inp.name,
	}
}
`,
	}
}

// graphSizePolicy rejects documents too large to plan comfortably.
func graphSizePolicy() Policy {
	return Policy{
		Name:        "graph-size",
		Description: "Graphs are limited in node count",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits"},
		Rego: `package symgraph.policies.size

import rego.v1

max_nodes := 10000

deny contains violation if {
	n := count(object.get(input.graph, "nodes", []))
	n > max_nodes
	violation := {
		"message": sprintf("graph has %d nodes, more than the limit of %d", [n, max_nodes]),
	}
}
`,
	}
}
