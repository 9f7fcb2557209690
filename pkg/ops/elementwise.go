package ops

import (
	"context"
	"fmt"
	"math"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// binary applies fn element by element. Operands must have equal shapes, or
// one of them must hold a single element which is broadcast.
type binary struct {
	kind string
	fn   func(x, y float64) float64
}

// NewAdd returns a kernel computing x + y.
func NewAdd() graph.Kernel {
	return &binary{kind: "Add", fn: func(x, y float64) float64 { return x + y }}
}

// NewMul returns a kernel computing x * y.
func NewMul() graph.Kernel {
	return &binary{kind: "Mul", fn: func(x, y float64) float64 { return x * y }}
}

func (k *binary) Type() string { return k.kind }

func (k *binary) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%s takes 2 inputs, got %d", k.kind, len(inputs))
	}
	shape, err := unifyShapes(inputs[0].Shape, inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	dtype := inputs[0].DType
	if dtype == "" {
		dtype = inputs[1].DType
	}
	if dtype == tensor.String {
		return nil, fmt.Errorf("%s does not support string inputs", k.kind)
	}
	return []graph.Spec{{Shape: shape, DType: dtype}}, nil
}

func (k *binary) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%s takes 2 inputs, got %d", k.kind, len(inputs))
	}
	a, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}
	b, y, err := numbersOf(inputs[1])
	if err != nil {
		return nil, err
	}

	shape := a.Shape()
	var out []float64
	switch {
	case equalDims(a.Shape(), b.Shape()):
		out = make([]float64, len(x))
		for i := range x {
			out[i] = k.fn(x[i], y[i])
		}
	case len(y) == 1:
		out = make([]float64, len(x))
		for i := range x {
			out[i] = k.fn(x[i], y[0])
		}
	case len(x) == 1:
		shape = b.Shape()
		out = make([]float64, len(y))
		for i := range y {
			out[i] = k.fn(x[0], y[i])
		}
	default:
		return nil, fmt.Errorf("%s: incompatible shapes %v and %v", k.kind, a.Shape(), b.Shape())
	}

	result, err := a.Pool().New(shape, a.DType(), out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}

// unary applies fn to every element and forwards the input mask.
type unary struct {
	kind string
	fn   func(x float64) float64
}

// NewRelu returns a kernel computing max(x, 0).
func NewRelu() graph.Kernel {
	return &unary{kind: "Relu", fn: func(x float64) float64 { return math.Max(x, 0) }}
}

// NewScale returns a kernel multiplying every element by factor.
func NewScale(factor float64) graph.Kernel {
	return &unary{kind: "Scale", fn: func(x float64) float64 { return x * factor }}
}

func scaleFromAttrs(attrs Attrs) (graph.Kernel, error) {
	factor, err := attrs.getFloat("factor", 1)
	if err != nil {
		return nil, err
	}
	return NewScale(factor), nil
}

func (k *unary) Type() string { return k.kind }

func (k *unary) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s takes 1 input, got %d", k.kind, len(inputs))
	}
	if inputs[0].DType == tensor.String {
		return nil, fmt.Errorf("%s does not support string inputs", k.kind)
	}
	return []graph.Spec{{Shape: inputs[0].Shape.Clone(), DType: inputs[0].DType}}, nil
}

func (k *unary) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s takes 1 input, got %d", k.kind, len(inputs))
	}
	t, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = k.fn(v)
	}
	result, err := t.Pool().New(t.Shape(), t.DType(), out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}

func (k *unary) ComputeMask(_ []tensor.Value, masks []tensor.Value) ([]tensor.Value, error) {
	return forwardMask(masks)
}

// Cast converts its input to a fixed dtype.
type Cast struct {
	to tensor.DType
}

// NewCast returns a kernel casting to the given dtype.
func NewCast(to tensor.DType) (*Cast, error) {
	if err := to.Validate(); err != nil {
		return nil, err
	}
	return &Cast{to: to}, nil
}

func castFromAttrs(attrs Attrs) (graph.Kernel, error) {
	name, err := attrs.getString("dtype", "")
	if err != nil {
		return nil, err
	}
	return NewCast(tensor.DType(name))
}

func (k *Cast) Type() string { return "Cast" }

func (k *Cast) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Cast takes 1 input, got %d", len(inputs))
	}
	return []graph.Spec{{Shape: inputs[0].Shape.Clone(), DType: k.to}}, nil
}

func (k *Cast) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Cast takes 1 input, got %d", len(inputs))
	}
	out, err := inputs[0].Cast(k.to)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{out}, nil
}

func (k *Cast) ComputeMask(_ []tensor.Value, masks []tensor.Value) ([]tensor.Value, error) {
	return forwardMask(masks)
}

// forwardMask returns a copy of the first input mask as the single output mask.
func forwardMask(masks []tensor.Value) ([]tensor.Value, error) {
	if len(masks) == 0 || masks[0] == nil {
		return []tensor.Value{nil}, nil
	}
	t, err := tensor.AsTensor(masks[0])
	if err != nil {
		return nil, err
	}
	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	return []tensor.Value{clone}, nil
}

func numbersOf(v tensor.Value) (*tensor.Tensor, []float64, error) {
	t, err := tensor.AsTensor(v)
	if err != nil {
		return nil, nil, err
	}
	data, err := t.Numbers()
	if err != nil {
		return nil, nil, err
	}
	return t, data, nil
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// unifyShapes merges two declared shapes for an elementwise kernel. Scalars
// broadcast; otherwise ranks must match and wildcards defer to known sizes.
func unifyShapes(a, b graph.Shape) (graph.Shape, error) {
	if !a.Declared() || !b.Declared() {
		return nil, nil
	}
	if len(b) == 0 {
		return a.Clone(), nil
	}
	if len(a) == 0 {
		return b.Clone(), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("incompatible shapes %s and %s", a, b)
	}

	out := make(graph.Shape, len(a))
	for i := range a {
		switch {
		case a[i] == graph.Wildcard:
			out[i] = b[i]
		case b[i] == graph.Wildcard, a[i] == b[i]:
			out[i] = a[i]
		default:
			return nil, fmt.Errorf("incompatible shapes %s and %s at dimension %d", a, b, i)
		}
	}
	return out, nil
}
