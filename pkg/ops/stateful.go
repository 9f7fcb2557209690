package ops

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Dropout zeroes a random fraction of its input in training mode and scales
// the survivors by 1/(1-rate). At inference it copies its input.
//
// Graph documents set the generator seed with the "seed" attribute. Without
// it the seed is defaultDropoutSeed, so repeated training runs drop the same
// elements.
type Dropout struct {
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDropout returns a dropout kernel with a seeded generator.
func NewDropout(rate float64, seed int64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %v", rate)
	}
	return &Dropout{rate: rate, rng: rand.New(rand.NewSource(seed))}, nil
}

const defaultDropoutSeed = 1

func dropoutFromAttrs(attrs Attrs) (graph.Kernel, error) {
	rate, err := attrs.getFloat("rate", 0.5)
	if err != nil {
		return nil, err
	}
	seed, err := attrs.getInt("seed", defaultDropoutSeed)
	if err != nil {
		return nil, err
	}
	return NewDropout(rate, int64(seed))
}

func (k *Dropout) Type() string { return "Dropout" }

func (k *Dropout) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Dropout takes 1 input, got %d", len(inputs))
	}
	return []graph.Spec{{Shape: inputs[0].Shape.Clone(), DType: inputs[0].DType}}, nil
}

func (k *Dropout) Apply(_ context.Context, inputs []tensor.Value, kwargs graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Dropout takes 1 input, got %d", len(inputs))
	}
	t, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(x))
	if !kwargs.Training() || k.rate == 0 {
		copy(out, x)
	} else {
		k.mu.Lock()
		for i, v := range x {
			if k.rng.Float64() >= k.rate {
				out[i] = v / (1 - k.rate)
			}
		}
		k.mu.Unlock()
	}

	result, err := t.Pool().New(t.Shape(), t.DType(), out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}

func (k *Dropout) ComputeMask(_ []tensor.Value, masks []tensor.Value) ([]tensor.Value, error) {
	return forwardMask(masks)
}

// Variable takes no inputs and yields a value it owns. The engine never
// disposes its output; Assign and Release manage its lifetime.
type Variable struct {
	spec graph.Spec

	mu    sync.RWMutex
	value *tensor.Tensor
}

// NewVariable wraps an initial value.
func NewVariable(initial *tensor.Tensor) (*Variable, error) {
	if initial == nil || initial.IsDisposed() {
		return nil, fmt.Errorf("variable needs a live initial value")
	}
	return &Variable{
		spec:  graph.Spec{Shape: graph.Shape(initial.Shape()), DType: initial.DType()},
		value: initial,
	}, nil
}

func variableFromAttrs(attrs Attrs) (graph.Kernel, error) {
	shape, err := attrs.getInts("shape")
	if err != nil {
		return nil, err
	}
	dtypeName, err := attrs.getString("dtype", string(tensor.Float32))
	if err != nil {
		return nil, err
	}
	values, err := attrs.getFloats("values")
	if err != nil {
		return nil, err
	}

	dtype := tensor.DType(dtypeName)
	var initial *tensor.Tensor
	if values == nil {
		initial, err = tensor.Default().Zeros(shape, dtype)
	} else {
		initial, err = tensor.New(shape, dtype, values)
	}
	if err != nil {
		return nil, err
	}
	return NewVariable(initial)
}

func (k *Variable) Type() string { return "Variable" }

// Stateful marks the output as owned by the variable.
func (k *Variable) Stateful() bool { return true }

func (k *Variable) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 0 {
		return nil, fmt.Errorf("Variable takes no inputs, got %d", len(inputs))
	}
	return []graph.Spec{{Shape: k.spec.Shape.Clone(), DType: k.spec.DType}}, nil
}

func (k *Variable) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 0 {
		return nil, fmt.Errorf("Variable takes no inputs, got %d", len(inputs))
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.value.IsDisposed() {
		return nil, fmt.Errorf("variable has been released")
	}
	return []tensor.Value{k.value}, nil
}

// Value returns the current value.
func (k *Variable) Value() *tensor.Tensor {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.value
}

// Assign replaces the value, disposing the previous one. The shape and
// dtype must match the declared spec.
func (k *Variable) Assign(v *tensor.Tensor) error {
	if v == nil || v.IsDisposed() {
		return fmt.Errorf("cannot assign a disposed value")
	}
	if v.DType() != k.spec.DType || !equalDims(v.Shape(), k.spec.Shape) {
		return fmt.Errorf("cannot assign %s %v to variable of %s", v.DType(), v.Shape(), k.spec)
	}

	k.mu.Lock()
	old := k.value
	k.value = v
	k.mu.Unlock()

	if old != v {
		old.Dispose()
	}
	return nil
}

// Release disposes the held value.
func (k *Variable) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.value.Dispose()
}
