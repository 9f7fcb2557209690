// Package policy checks graph documents against Open Policy Agent (OPA)
// policies written in Rego.
//
// A policy is a Rego module that defines a "deny" set. Each member is a
// violation, either a message string or an object:
//
//	package symgraph.policies.ops
//
//	import rego.v1
//
//	deny contains violation if {
//		some node in input.graph.nodes
//		node.op == "Lambda"
//		violation := {"message": "scripted kernels are not allowed", "node": node.name, "severity": "error"}
//	}
//
// The input document carries the graph as written ("graph"), its dependency
// levels ("levels"), a map from node names to the nodes consuming them
// ("consumers") and the CLI operation ("operation").
//
// The engine starts with built-in policies (fetches-declared, unused-nodes,
// input-dtypes, graph-size). Policies loaded from files replace built-ins of
// the same name. A .rego file is named after the file and may set its
// default severity with a "# severity: error" comment; a .json file holds a
// serialized Policy. Any violation of error severity makes the result
// disallowed.
//
// Usage:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	result, err := engine.Evaluate(ctx, policy.NewInput(doc, model.Levels, "validate"))
package policy
