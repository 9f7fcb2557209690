package ops

import (
	"context"
	"fmt"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// MatMul multiplies two rank-2 tensors.
type MatMul struct{}

// NewMatMul returns a matrix multiplication kernel.
func NewMatMul() *MatMul {
	return &MatMul{}
}

func (k *MatMul) Type() string { return "MatMul" }

func (k *MatMul) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MatMul takes 2 inputs, got %d", len(inputs))
	}
	a, b := inputs[0].Shape, inputs[1].Shape
	dtype := inputs[0].DType
	if dtype == "" {
		dtype = inputs[1].DType
	}
	if !a.Declared() || !b.Declared() {
		return []graph.Spec{{DType: dtype}}, nil
	}
	if len(a) != 2 || len(b) != 2 {
		return nil, fmt.Errorf("MatMul needs rank-2 inputs, got %s and %s", a, b)
	}
	if a[1] != graph.Wildcard && b[0] != graph.Wildcard && a[1] != b[0] {
		return nil, fmt.Errorf("MatMul inner dimensions differ: %s and %s", a, b)
	}
	return []graph.Spec{{Shape: graph.Shape{a[0], b[1]}, DType: dtype}}, nil
}

func (k *MatMul) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MatMul takes 2 inputs, got %d", len(inputs))
	}
	a, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}
	b, y, err := numbersOf(inputs[1])
	if err != nil {
		return nil, err
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 || as[1] != bs[0] {
		return nil, fmt.Errorf("MatMul: incompatible shapes %v and %v", as, bs)
	}

	m, n, p := as[0], as[1], bs[1]
	out := make([]float64, m*p)
	for i := 0; i < m; i++ {
		for j := 0; j < p; j++ {
			var acc float64
			for l := 0; l < n; l++ {
				acc += x[i*n+l] * y[l*p+j]
			}
			out[i*p+j] = acc
		}
	}

	result, err := a.Pool().New([]int{m, p}, a.DType(), out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}

// Sum reduces all elements to a scalar.
type Sum struct{}

// NewSum returns a full reduction kernel.
func NewSum() *Sum {
	return &Sum{}
}

func (k *Sum) Type() string { return "Sum" }

func (k *Sum) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Sum takes 1 input, got %d", len(inputs))
	}
	return []graph.Spec{{Shape: graph.Shape{}, DType: inputs[0].DType}}, nil
}

func (k *Sum) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Sum takes 1 input, got %d", len(inputs))
	}
	t, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}
	var acc float64
	for _, v := range x {
		acc += v
	}
	result, err := t.Pool().New(nil, t.DType(), []float64{acc})
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}
