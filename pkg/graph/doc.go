// Package graph provides the symbolic layer: nodes, operations, and the
// construction session that names them.
//
// A Graph hands out process-unique node IDs and graph-unique names. Nodes are
// immutable once created and form a DAG by construction, since a node can only
// reference nodes that already exist.
//
// Example:
//
//	g := graph.New("demo")
//	x, _ := g.Input("x", graph.Spec{Shape: graph.Shape{graph.Wildcard, 3}, DType: tensor.Float32})
//	y, _ := g.Apply(ops.NewRelu(), x)
package graph
