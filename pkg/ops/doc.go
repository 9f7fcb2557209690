// Package ops implements the kernels applied by the engine.
//
// Every kernel satisfies graph.Kernel. Kernels that forward or create masks
// also implement graph.Masker, and Variable implements graph.Stateful so the
// engine leaves its output alone. A Registry builds kernels by type name from
// the attributes found in graph documents; Builtin returns one holding every
// kernel defined here.
package ops
