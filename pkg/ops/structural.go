package ops

import (
	"context"
	"fmt"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Split cuts its input into equal parts along the first axis. It is the
// multi-output kernel: one call yields Parts nodes.
type Split struct {
	parts int
}

// NewSplit returns a kernel producing parts outputs.
func NewSplit(parts int) (*Split, error) {
	if parts < 1 {
		return nil, fmt.Errorf("split parts must be positive, got %d", parts)
	}
	return &Split{parts: parts}, nil
}

func splitFromAttrs(attrs Attrs) (graph.Kernel, error) {
	parts, err := attrs.getInt("parts", 2)
	if err != nil {
		return nil, err
	}
	return NewSplit(parts)
}

func (k *Split) Type() string { return "Split" }

// Parts returns the number of outputs.
func (k *Split) Parts() int { return k.parts }

func (k *Split) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Split takes 1 input, got %d", len(inputs))
	}
	in := inputs[0]

	var shape graph.Shape
	if in.Shape.Declared() {
		if len(in.Shape) == 0 {
			return nil, fmt.Errorf("Split cannot split a scalar")
		}
		shape = in.Shape.Clone()
		if shape[0] != graph.Wildcard {
			if shape[0]%k.parts != 0 {
				return nil, fmt.Errorf("Split: dimension %d is not divisible by %d", shape[0], k.parts)
			}
			shape[0] /= k.parts
		}
	}

	out := make([]graph.Spec, k.parts)
	for i := range out {
		out[i] = graph.Spec{Shape: shape.Clone(), DType: in.DType}
	}
	return out, nil
}

func (k *Split) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Split takes 1 input, got %d", len(inputs))
	}
	t, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}
	shape := t.Shape()
	if len(shape) == 0 || shape[0]%k.parts != 0 {
		return nil, fmt.Errorf("Split: shape %v is not divisible into %d parts", shape, k.parts)
	}

	shape[0] /= k.parts
	chunk := len(x) / k.parts
	out := make([]tensor.Value, 0, k.parts)
	for i := 0; i < k.parts; i++ {
		part, err := t.Pool().New(shape, t.DType(), x[i*chunk:(i+1)*chunk])
		if err != nil {
			for _, v := range out {
				v.Dispose()
			}
			return nil, err
		}
		out = append(out, part)
	}
	return out, nil
}

// Concat joins its inputs along the first axis.
type Concat struct{}

// NewConcat returns a concatenation kernel.
func NewConcat() *Concat {
	return &Concat{}
}

func (k *Concat) Type() string { return "Concat" }

func (k *Concat) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("Concat takes at least 1 input")
	}
	dtype := inputs[0].DType

	var shape graph.Shape
	for i, in := range inputs {
		if !in.Shape.Declared() {
			return []graph.Spec{{DType: dtype}}, nil
		}
		if len(in.Shape) == 0 {
			return nil, fmt.Errorf("Concat input %d is a scalar", i)
		}
		if shape == nil {
			shape = in.Shape.Clone()
			continue
		}
		if len(in.Shape) != len(shape) {
			return nil, fmt.Errorf("Concat input %d has rank %d, want %d", i, len(in.Shape), len(shape))
		}
		if shape[0] == graph.Wildcard || in.Shape[0] == graph.Wildcard {
			shape[0] = graph.Wildcard
		} else {
			shape[0] += in.Shape[0]
		}
		for d := 1; d < len(shape); d++ {
			if shape[d] == graph.Wildcard {
				shape[d] = in.Shape[d]
			} else if in.Shape[d] != graph.Wildcard && in.Shape[d] != shape[d] {
				return nil, fmt.Errorf("Concat input %d differs at dimension %d", i, d)
			}
		}
	}
	return []graph.Spec{{Shape: shape, DType: dtype}}, nil
}

func (k *Concat) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("Concat takes at least 1 input")
	}
	first, _, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}
	shape := first.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("Concat cannot join scalars")
	}
	shape[0] = 0

	var out []float64
	for i, v := range inputs {
		t, x, err := numbersOf(v)
		if err != nil {
			return nil, err
		}
		s := t.Shape()
		if len(s) != len(shape) || !equalDims(s[1:], shape[1:]) {
			return nil, fmt.Errorf("Concat input %d has shape %v", i, s)
		}
		shape[0] += s[0]
		out = append(out, x...)
	}

	result, err := first.Pool().New(shape, first.DType(), out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}
