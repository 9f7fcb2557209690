package ops

import (
	"context"
	"fmt"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Masking passes its input through and emits a boolean mask marking the
// positions that differ from a sentinel value. For inputs of rank 2 or more
// a position is the last axis: it is masked out only if every element equals
// the sentinel.
type Masking struct {
	value float64
}

// NewMasking returns a masking kernel for the given sentinel.
func NewMasking(value float64) *Masking {
	return &Masking{value: value}
}

func maskingFromAttrs(attrs Attrs) (graph.Kernel, error) {
	value, err := attrs.getFloat("value", 0)
	if err != nil {
		return nil, err
	}
	return NewMasking(value), nil
}

func (k *Masking) Type() string { return "Masking" }

func (k *Masking) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Masking takes 1 input, got %d", len(inputs))
	}
	return []graph.Spec{{Shape: inputs[0].Shape.Clone(), DType: inputs[0].DType}}, nil
}

func (k *Masking) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Masking takes 1 input, got %d", len(inputs))
	}
	t, err := tensor.AsTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	out, err := t.Clone()
	if err != nil {
		return nil, err
	}
	return []tensor.Value{out}, nil
}

func (k *Masking) ComputeMask(inputs []tensor.Value, _ []tensor.Value) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Masking takes 1 input, got %d", len(inputs))
	}
	t, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}

	shape := t.Shape()
	inner := 1
	if len(shape) >= 2 {
		inner = shape[len(shape)-1]
		shape = shape[:len(shape)-1]
	}

	positions := 0
	if inner > 0 {
		positions = len(x) / inner
	}
	mask := make([]float64, positions)
	for p := 0; p < positions; p++ {
		for _, v := range x[p*inner : (p+1)*inner] {
			if v != k.value {
				mask[p] = 1
				break
			}
		}
	}

	out, err := t.Pool().New(shape, tensor.Bool, mask)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{out}, nil
}
