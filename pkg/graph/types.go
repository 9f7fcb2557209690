package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Kind tags a node as an input terminal or a computed node.
// It is fixed when the node is constructed.
type Kind int

const (
	// KindInput nodes terminate recursion and must be fed a value.
	KindInput Kind = iota + 1

	// KindComputed nodes are produced by applying an operation to their inputs.
	KindComputed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// Wildcard marks an unspecified dimension in a declared shape.
const Wildcard = -1

// Shape is a declared shape. A nil Shape is undeclared; a non-nil empty
// Shape declares a scalar.
type Shape []int

// Declared reports whether the shape constrains values at all.
func (s Shape) Declared() bool {
	return s != nil
}

// String renders the shape with wildcards shown as "null".
func (s Shape) String() string {
	if s == nil {
		return "undeclared"
	}
	parts := make([]string, len(s))
	for i, d := range s {
		if d == Wildcard {
			parts[i] = "null"
		} else {
			parts[i] = strconv.Itoa(d)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Clone returns a copy of the shape, preserving nil.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape{}, s...)
}

// Spec is the declared shape and dtype of a node. An empty DType is undeclared.
type Spec struct {
	Shape Shape
	DType tensor.DType
}

// String renders the spec.
func (s Spec) String() string {
	dtype := string(s.DType)
	if dtype == "" {
		dtype = "undeclared"
	}
	return fmt.Sprintf("%s %s", dtype, s.Shape)
}

// Reserved kwargs keys.
const (
	// KwargTraining holds a bool selecting training behavior.
	KwargTraining = "training"

	// KwargMask holds the masks of the inputs, aligned with the inputs.
	KwargMask = "mask"
)

// Kwargs are keyword options passed to a kernel on every application.
type Kwargs map[string]any

// Training reports whether the training flag is set.
func (k Kwargs) Training() bool {
	v, _ := k[KwargTraining].(bool)
	return v
}

// Masks returns the input masks, or nil when none were supplied.
func (k Kwargs) Masks() []tensor.Value {
	v, _ := k[KwargMask].([]tensor.Value)
	return v
}

// Clone returns a shallow copy, never nil.
func (k Kwargs) Clone() Kwargs {
	out := make(Kwargs, len(k)+2)
	for key, v := range k {
		out[key] = v
	}
	return out
}

// Kernel computes the outputs of an operation. Kernels are pure: the same
// inputs produce equivalent outputs and the inputs are never disposed.
// Outputs are newly allocated unless the kernel is Stateful and owns them.
type Kernel interface {
	// Type names the kernel, e.g. "Add".
	Type() string

	// InferOutputs returns the declared specs of the outputs for the given input specs.
	InferOutputs(inputs []Spec) ([]Spec, error)

	// Apply computes the output values. The result length must match InferOutputs.
	Apply(ctx context.Context, inputs []tensor.Value, kwargs Kwargs) ([]tensor.Value, error)
}

// Masker is implemented by kernels that propagate masks.
type Masker interface {
	// ComputeMask returns one newly allocated mask per output. Entries
	// may be nil.
	ComputeMask(inputs []tensor.Value, masks []tensor.Value) ([]tensor.Value, error)
}

// Stateful is implemented by kernels whose outputs are owned by the kernel
// itself. The engine never disposes such outputs.
type Stateful interface {
	Stateful() bool
}
