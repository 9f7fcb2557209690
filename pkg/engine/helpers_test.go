package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/ops"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

var errBoom = errors.New("boom")

// diamond is A -> B -> D and A -> C -> D with B = relu(A), C = 2A, D = B + C.
type diamond struct {
	g          *graph.Graph
	a, b, c, d *graph.Node
}

func newDiamond(t *testing.T) diamond {
	t.Helper()
	g := graph.New("diamond")

	a, err := g.Input("A", graph.Spec{Shape: graph.Shape{3}, DType: tensor.Float32})
	if err != nil {
		t.Fatalf("Input(A) error = %v", err)
	}
	b := mustApply(t, g, "B", ops.NewRelu(), a)
	c := mustApply(t, g, "C", ops.NewScale(2), a)
	d := mustApply(t, g, "D", ops.NewAdd(), b, c)

	return diamond{g: g, a: a, b: b, c: c, d: d}
}

func mustApply(t *testing.T, g *graph.Graph, name string, kernel graph.Kernel, inputs ...*graph.Node) *graph.Node {
	t.Helper()
	n, err := g.ApplyNamed(name, kernel, inputs...)
	if err != nil {
		t.Fatalf("ApplyNamed(%s) error = %v", name, err)
	}
	return n
}

func mustInput(t *testing.T, g *graph.Graph, name string, shape graph.Shape) *graph.Node {
	t.Helper()
	n, err := g.Input(name, graph.Spec{Shape: shape, DType: tensor.Float32})
	if err != nil {
		t.Fatalf("Input(%s) error = %v", name, err)
	}
	return n
}

func newValue(t *testing.T, pool *tensor.Pool, shape []int, data ...float64) *tensor.Tensor {
	t.Helper()
	v, err := pool.New(shape, tensor.Float32, data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func mustFeeds(t *testing.T, feeds ...Feed) *FeedDict {
	t.Helper()
	f, err := NewFeedDict(feeds...)
	if err != nil {
		t.Fatalf("NewFeedDict() error = %v", err)
	}
	return f
}

func numbers(t *testing.T, v tensor.Value) []float64 {
	t.Helper()
	tt, err := tensor.AsTensor(v)
	if err != nil {
		t.Fatalf("AsTensor() error = %v", err)
	}
	x, err := tt.Numbers()
	if err != nil {
		t.Fatalf("Numbers() error = %v", err)
	}
	return x
}

func assertNumbers(t *testing.T, v tensor.Value, want ...float64) {
	t.Helper()
	got := numbers(t, v)
	if len(got) != len(want) {
		t.Fatalf("values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values = %v, want %v", got, want)
		}
	}
}

func planNames(p *Plan) string {
	return fmt.Sprint(p.Names())
}

// spyKernel adds one to its first input and records how it was called.
type spyKernel struct {
	calls       int
	sawDisposed bool
	training    []bool
	masks       [][]tensor.Value
}

func (k *spyKernel) Type() string { return "Spy" }

func (k *spyKernel) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) == 0 {
		return nil, errors.New("spy needs an input")
	}
	return []graph.Spec{inputs[0]}, nil
}

func (k *spyKernel) Apply(_ context.Context, inputs []tensor.Value, kwargs graph.Kwargs) ([]tensor.Value, error) {
	k.calls++
	k.training = append(k.training, kwargs.Training())
	k.masks = append(k.masks, kwargs.Masks())
	for _, in := range inputs {
		if in.IsDisposed() {
			k.sawDisposed = true
			return nil, tensor.ErrDisposed
		}
	}

	t, err := tensor.AsTensor(inputs[0])
	if err != nil {
		return nil, err
	}
	x, err := t.Numbers()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] + 1
	}
	v, err := t.Pool().New(t.Shape(), t.DType(), out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{v}, nil
}

// failingKernel always fails with errBoom.
type failingKernel struct{}

func (failingKernel) Type() string { return "Fail" }

func (failingKernel) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	return []graph.Spec{inputs[0]}, nil
}

func (failingKernel) Apply(context.Context, []tensor.Value, graph.Kwargs) ([]tensor.Value, error) {
	return nil, errBoom
}

// countingKernel counts applications of the wrapped kernel.
type countingKernel struct {
	graph.Kernel
	calls int
}

func (k *countingKernel) Apply(ctx context.Context, inputs []tensor.Value, kwargs graph.Kwargs) ([]tensor.Value, error) {
	k.calls++
	return k.Kernel.Apply(ctx, inputs, kwargs)
}
