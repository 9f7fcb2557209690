package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/ops"
	"github.com/openfroyo/symgraph/pkg/telemetry"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

func TestExecute_DiamondReleasesIntermediates(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	a := newValue(t, pool, []int{3}, 1, -2, 3)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: a})

	exec := NewExecutor(WithLiveCounter(pool.NumLive))
	probe := NewExecutionProbe()

	d, err := exec.ExecuteOne(context.Background(), dm.d, feeds, ExecuteOptions{Probe: probe})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}

	assertNumbers(t, d, 3, -4, 9)
	if a.IsDisposed() {
		t.Error("the fed value A was disposed")
	}
	if d.IsDisposed() {
		t.Error("the fetched value D was disposed")
	}
	if pool.NumLive() != 2 {
		t.Errorf("NumLive() = %d, want 2 (A and D)", pool.NumLive())
	}
	if probe.MinNumValues != 1 || probe.MaxNumValues != 3 {
		t.Errorf("probe min/max = %d/%d, want 1/3", probe.MinNumValues, probe.MaxNumValues)
	}
	if feeds.Len() != 1 {
		t.Errorf("caller's feeds grew to %d entries", feeds.Len())
	}
}

func TestExecute_TrainingKeepsIntermediates(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("training")
	x := mustInput(t, g, "x", graph.Shape{2})
	first := &spyKernel{}
	second := &spyKernel{}
	h := mustApply(t, g, "h", first, x)
	y := mustApply(t, g, "y", second, h)

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{2}, 1, 2)})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	out, err := exec.ExecuteOne(context.Background(), y, feeds, ExecuteOptions{Training: true})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	assertNumbers(t, out, 3, 4)
	if pool.NumLive() != 3 {
		t.Errorf("NumLive() = %d, want 3 in training mode", pool.NumLive())
	}
	if len(first.training) != 1 || !first.training[0] {
		t.Errorf("kernel saw training = %v, want [true]", first.training)
	}

	out.Dispose()
	if _, err := exec.ExecuteOne(context.Background(), y, feeds, ExecuteOptions{}); err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	if second.training[1] {
		t.Error("inference execution passed training = true")
	}
	if exec.PlanCache().Hits() != 1 {
		t.Errorf("Hits() = %d, want 1", exec.PlanCache().Hits())
	}
}

func TestExecute_NoUseAfterDispose(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("reuse")
	x := mustInput(t, g, "x", graph.Shape{2})

	spies := make([]*spyKernel, 4)
	for i := range spies {
		spies[i] = &spyKernel{}
	}
	h := mustApply(t, g, "h", spies[0], x)
	left := mustApply(t, g, "left", spies[1], h, h)
	right := mustApply(t, g, "right", spies[2], h)
	sum := mustApply(t, g, "sum", ops.NewAdd(), left, right)
	out := mustApply(t, g, "out", spies[3], sum, h)

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{2}, 0, 1)})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	v, err := exec.ExecuteOne(context.Background(), out, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	for i, s := range spies {
		if s.sawDisposed {
			t.Errorf("spy %d read a disposed value", i)
		}
	}
	// h = x+1, left = right = h+1, sum = 2h+2, out = sum+1
	assertNumbers(t, v, 5, 7)
	if pool.NumLive() != 2 {
		t.Errorf("NumLive() = %d, want 2", pool.NumLive())
	}
}

func TestExecute_MultipleFetches(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	a := newValue(t, pool, []int{3}, 1, -2, 3)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: a})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	values, err := exec.Execute(context.Background(), []*graph.Node{dm.d, dm.b, dm.a, dm.d}, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("Execute() returned %d values, want 4", len(values))
	}
	assertNumbers(t, values[0], 3, -4, 9)
	assertNumbers(t, values[1], 1, 0, 3)
	if values[2] != tensor.Value(a) {
		t.Error("a fed fetch must return the fed value")
	}
	if values[3] != values[0] {
		t.Error("a repeated fetch must return the same value")
	}
	// A, B and D survive; C is released.
	if pool.NumLive() != 3 {
		t.Errorf("NumLive() = %d, want 3", pool.NumLive())
	}
}

func TestExecute_FedFetchSkipsExecution(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	fed := newValue(t, pool, []int{3}, 7, 8, 9)
	feeds := mustFeeds(t, Feed{Node: dm.d, Value: fed})

	got, err := NewExecutor().ExecuteOne(context.Background(), dm.d, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	if got != tensor.Value(fed) {
		t.Error("fed fetch was recomputed")
	}
}

func TestExecute_Errors(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	exec := NewExecutor(WithLiveCounter(pool.NumLive))
	ctx := context.Background()

	if _, err := exec.Execute(ctx, nil, mustFeeds(t), ExecuteOptions{}); !IsInvariantError(err) {
		t.Errorf("Execute(no fetches) error = %v, want InvariantError", err)
	}

	_, err := exec.ExecuteOne(ctx, dm.d, mustFeeds(t), ExecuteOptions{})
	if !IsLookupError(err) {
		t.Errorf("ExecuteOne(unfed input) error = %v, want LookupError", err)
	}
	var ee *EngineError
	if errors.As(err, &ee) && ee.Details["input"] != "A" {
		t.Errorf("Details[input] = %v, want A", ee.Details["input"])
	}
}

func TestExecute_OperationFailure(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("failing")
	x := mustInput(t, g, "x", graph.Shape{2})
	h := mustApply(t, g, "h", ops.NewRelu(), x)
	f := mustApply(t, g, "f", failingKernel{}, h)
	y := mustApply(t, g, "y", ops.NewRelu(), f)

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{2}, 1, 2)})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	_, err := exec.ExecuteOne(context.Background(), y, feeds, ExecuteOptions{})
	if !IsOperationError(err) {
		t.Fatalf("ExecuteOne() error = %v, want OperationError", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("OperationError does not unwrap to the kernel error: %v", err)
	}

	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error %T is not an *EngineError", err)
	}
	if ee.Node != "f" || ee.Operation != "f" {
		t.Errorf("error context = node %q operation %q, want f/f", ee.Node, ee.Operation)
	}
	if pool.NumLive() != 1 {
		t.Errorf("NumLive() = %d after failure, want only the feed", pool.NumLive())
	}
}

func TestExecute_MultiOutputOperations(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("split")
	x := mustInput(t, g, "x", graph.Shape{4})

	split, err := ops.NewSplit(2)
	if err != nil {
		t.Fatalf("NewSplit() error = %v", err)
	}
	counted := &countingKernel{Kernel: split}
	op, err := g.NewOperation("split", counted)
	if err != nil {
		t.Fatalf("NewOperation() error = %v", err)
	}
	parts, err := g.Call(op, x)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	r := mustApply(t, g, "r", ops.NewRelu(), parts[0])

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{4}, -1, 2, 3, 4)})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	out, err := exec.ExecuteOne(context.Background(), r, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	assertNumbers(t, out, 0, 2)
	if pool.NumLive() != 2 {
		t.Errorf("NumLive() = %d, want 2 (unused sibling released)", pool.NumLive())
	}

	values, err := exec.Execute(context.Background(), parts, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	assertNumbers(t, values[0], -1, 2)
	assertNumbers(t, values[1], 3, 4)
	if counted.calls != 2 {
		t.Errorf("split applied %d times over two executions, want 2", counted.calls)
	}
}

func TestExecute_RepeatedInvocations(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("shared")
	x := mustInput(t, g, "x", graph.Shape{2})

	op, err := g.NewOperation("shift", &spyKernel{})
	if err != nil {
		t.Fatalf("NewOperation() error = %v", err)
	}
	first, err := g.Call(op, x)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	second, err := g.Call(op, first[0])
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if second[0].Name() != "shift_1" {
		t.Fatalf("second invocation named %q", second[0].Name())
	}

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{2}, 0, 10)})
	values, err := NewExecutor().Execute(context.Background(), []*graph.Node{first[0], second[0]}, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	assertNumbers(t, values[0], 1, 11)
	assertNumbers(t, values[1], 2, 12)
}

func TestExecute_StatefulOutputsSurvive(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("stateful")
	x := mustInput(t, g, "x", graph.Shape{3})

	variable, err := ops.NewVariable(newValue(t, pool, []int{3}, 1, 1, 1))
	if err != nil {
		t.Fatalf("NewVariable() error = %v", err)
	}
	w := mustApply(t, g, "w", variable)
	y := mustApply(t, g, "y", ops.NewAdd(), x, w)

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{3}, 1, 2, 3)})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	for i := 0; i < 2; i++ {
		out, err := exec.ExecuteOne(context.Background(), y, feeds, ExecuteOptions{})
		if err != nil {
			t.Fatalf("run %d: ExecuteOne() error = %v", i, err)
		}
		assertNumbers(t, out, 2, 3, 4)
		out.Dispose()
		if variable.Value().IsDisposed() {
			t.Fatalf("run %d: the variable's value was disposed", i)
		}
	}
}

func TestExecute_MasksPropagate(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("masks")
	x := mustInput(t, g, "x", graph.Shape{graph.Wildcard, 2})
	spy := &spyKernel{}
	masked := mustApply(t, g, "masked", ops.NewMasking(0), x)
	y := mustApply(t, g, "y", spy, masked)

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{3, 2}, 1, 2, 0, 0, 3, 0)})
	exec := NewExecutor(WithLiveCounter(pool.NumLive))

	if _, err := exec.ExecuteOne(context.Background(), y, feeds, ExecuteOptions{}); err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	if len(spy.masks) != 1 || len(spy.masks[0]) != 1 || spy.masks[0][0] == nil {
		t.Fatalf("kernel received masks %v, want one mask", spy.masks)
	}
	mask := spy.masks[0][0]
	if !mask.IsDisposed() {
		t.Error("computed mask outlived the execution")
	}
	if pool.NumLive() != 2 {
		t.Errorf("NumLive() = %d, want 2", pool.NumLive())
	}
}

func TestExecute_FedMasksAreForwarded(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("fed-masks")
	x := mustInput(t, g, "x", graph.Shape{2})
	spy := &spyKernel{}
	h := mustApply(t, g, "h", ops.NewRelu(), x)
	y := mustApply(t, g, "y", spy, h)

	mask, err := pool.New([]int{2}, tensor.Bool, []float64{1, 0})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{2}, -1, 1), Mask: mask})

	if _, err := NewExecutor().ExecuteOne(context.Background(), y, feeds, ExecuteOptions{}); err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	if len(spy.masks[0]) != 1 || spy.masks[0][0] == nil {
		t.Fatalf("kernel received masks %v, want the forwarded mask", spy.masks)
	}
	if mask.IsDisposed() {
		t.Error("the caller's mask was disposed")
	}
}

func TestExecute_UnmaskedElementwise(t *testing.T) {
	pool := tensor.NewPool()
	g := graph.New("relu")
	x := mustInput(t, g, "x", graph.Shape{2})
	h := mustApply(t, g, "h", ops.NewRelu(), x)

	feeds := mustFeeds(t, Feed{Node: x, Value: newValue(t, pool, []int{2}, -1, 2)})
	out, err := NewExecutor().ExecuteOne(context.Background(), h, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	assertNumbers(t, out, 0, 2)
	if pool.NumLive() != 2 {
		t.Errorf("NumLive() = %d, want 2", pool.NumLive())
	}
	out.Dispose()
	if pool.NumLive() != 1 {
		t.Errorf("NumLive() after disposing the fetch = %d, want 1", pool.NumLive())
	}
}

func TestExecute_MaskForwardingKernels(t *testing.T) {
	cast, err := ops.NewCast(tensor.Float32)
	if err != nil {
		t.Fatalf("NewCast() error = %v", err)
	}
	dropout, err := ops.NewDropout(0.5, 1)
	if err != nil {
		t.Fatalf("NewDropout() error = %v", err)
	}
	lambda, err := ops.NewLambda("def fn(x):\n    return x * x\n", "")
	if err != nil {
		t.Fatalf("NewLambda() error = %v", err)
	}

	kernels := []struct {
		name   string
		kernel graph.Kernel
		want   []float64
	}{
		{"relu", ops.NewRelu(), []float64{1, 3}},
		{"scale", ops.NewScale(3), []float64{-2, 7}},
		{"cast", cast, []float64{0, 3}},
		{"dropout", dropout, []float64{0, 3}},
		{"lambda", lambda, []float64{2, 5}},
	}

	for _, k := range kernels {
		for _, withMask := range []bool{false, true} {
			name := k.name + "/unmasked"
			if withMask {
				name = k.name + "/masked"
			}
			t.Run(name, func(t *testing.T) {
				pool := tensor.NewPool()
				g := graph.New("forward-" + k.name)
				x := mustInput(t, g, "x", graph.Shape{2})
				h := mustApply(t, g, "h", k.kernel, x)
				spy := &spyKernel{}
				y := mustApply(t, g, "y", spy, h)

				feed := Feed{Node: x, Value: newValue(t, pool, []int{2}, -1, 2)}
				var mask tensor.Value
				if withMask {
					if mask, err = pool.New([]int{2}, tensor.Bool, []float64{1, 0}); err != nil {
						t.Fatalf("New() error = %v", err)
					}
					feed.Mask = mask
				}
				feeds := mustFeeds(t, feed)

				out, err := NewExecutor().ExecuteOne(context.Background(), y, feeds, ExecuteOptions{})
				if err != nil {
					t.Fatalf("ExecuteOne() error = %v", err)
				}
				assertNumbers(t, out, k.want...)

				if withMask {
					if len(spy.masks[0]) != 1 || spy.masks[0][0] == nil {
						t.Fatalf("kernel received masks %v, want the forwarded mask", spy.masks)
					}
					if !spy.masks[0][0].IsDisposed() {
						t.Error("forwarded mask copy outlived the execution")
					}
					if mask.IsDisposed() {
						t.Error("the caller's mask was disposed")
					}
				} else if len(spy.masks[0]) != 0 {
					t.Errorf("kernel received masks %v, want none", spy.masks[0])
				}

				live := 2
				if withMask {
					live = 3
				}
				if pool.NumLive() != live {
					t.Errorf("NumLive() = %d, want %d", pool.NumLive(), live)
				}
				out.Dispose()
			})
		}
	}
}

func TestExecute_Concurrent(t *testing.T) {
	dm := newDiamond(t)
	exec := NewExecutor()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pool := tensor.NewPool()
			v := float64(i + 1)
			feeds, err := NewFeedDict(Feed{Node: dm.a, Value: mustTensor(pool, v, -v, 1)})
			if err != nil {
				t.Errorf("NewFeedDict() error = %v", err)
				return
			}
			out, err := exec.ExecuteOne(context.Background(), dm.d, feeds, ExecuteOptions{})
			if err != nil {
				t.Errorf("ExecuteOne() error = %v", err)
				return
			}
			got, _ := out.(*tensor.Tensor).Numbers()
			want := []float64{3 * v, -2 * v, 3}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("worker %d got %v, want %v", i, got, want)
			}
			if pool.NumLive() != 2 {
				t.Errorf("worker %d NumLive() = %d, want 2", i, pool.NumLive())
			}
		}(i)
	}
	wg.Wait()

	if exec.PlanCache().Len() != 1 {
		t.Errorf("plan cache holds %d plans, want 1", exec.PlanCache().Len())
	}
}

func TestExecute_Telemetry(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	var mu sync.Mutex
	var seen []string
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	}, nil)

	exec := NewExecutor(WithEvents(events), WithMetrics(telemetry.NewNopMetrics()), WithTracer(telemetry.NewNopTracer()))
	if _, err := exec.ExecuteOne(context.Background(), dm.d, feeds, ExecuteOptions{ExecutionID: "run-1"}); err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	if _, err := exec.ExecuteOne(context.Background(), dm.d, mustFeeds(t), ExecuteOptions{ExecutionID: "run-2"}); err == nil {
		t.Fatal("ExecuteOne() without feeds should fail")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		telemetry.EventTypeExecutionStarted,
		telemetry.EventTypePlanBuilt,
		telemetry.EventTypeExecutionCompleted,
		telemetry.EventTypeExecutionStarted,
		telemetry.EventTypePlanBuilt,
		telemetry.EventTypeExecutionFailed,
	}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", seen, want)
	}
}

func TestRunBatch(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	exec := NewExecutor()

	jobs := []BatchJob{
		{Fetches: []*graph.Node{dm.d}, Feeds: mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 1, 1)})},
		{Fetches: []*graph.Node{dm.d}, Feeds: mustFeeds(t)},
		{Fetches: []*graph.Node{dm.b}, Feeds: mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, -1, 0, 1)})},
	}

	results := exec.RunBatch(context.Background(), jobs, 2)
	if len(results) != 3 {
		t.Fatalf("RunBatch() returned %d results", len(results))
	}
	for i, r := range results {
		if r.Index != i || r.ExecutionID == "" {
			t.Errorf("result %d = index %d id %q", i, r.Index, r.ExecutionID)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("unexpected errors: %v, %v", results[0].Err, results[2].Err)
	}
	assertNumbers(t, results[0].Values[0], 3, 3, 3)
	assertNumbers(t, results[2].Values[0], 0, 0, 1)
	if !IsLookupError(results[1].Err) {
		t.Errorf("job 1 error = %v, want LookupError", results[1].Err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, r := range exec.RunBatch(ctx, jobs[:1], 1) {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("cancelled batch error = %v", r.Err)
		}
	}
}

func TestDefaultExecutor(t *testing.T) {
	pool := tensor.NewPool()
	dm := newDiamond(t)
	feeds := mustFeeds(t, Feed{Node: dm.a, Value: newValue(t, pool, []int{3}, 1, 2, 3)})

	custom := NewExecutor()
	SetDefault(custom)
	defer SetDefault(nil)

	if Default() != custom {
		t.Fatal("SetDefault() did not install the executor")
	}
	out, err := ExecuteOne(context.Background(), dm.d, feeds, ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteOne() error = %v", err)
	}
	assertNumbers(t, out, 3, 6, 9)
	if custom.PlanCache().Len() != 1 {
		t.Error("package-level ExecuteOne did not use the default executor")
	}
}

func mustTensor(pool *tensor.Pool, data ...float64) *tensor.Tensor {
	v, err := pool.New([]int{len(data)}, tensor.Float32, data)
	if err != nil {
		panic(err)
	}
	return v
}
