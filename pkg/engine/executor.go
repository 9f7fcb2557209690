package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/telemetry"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Execution modes used as metric labels.
const (
	ModeInference = "inference"
	ModeTraining  = "training"
)

// ExecuteOptions tune a single execution.
type ExecuteOptions struct {
	// Training keeps every intermediate alive and is passed to kernels.
	Training bool

	// Kwargs are forwarded to every kernel. The training and mask keys
	// are always set by the executor.
	Kwargs graph.Kwargs

	// Probe, when set, samples the live value count before each step.
	Probe *ExecutionProbe

	// ExecutionID labels logs, spans and events. Generated when empty.
	ExecutionID string
}

// Executor evaluates fetches against a feed table. One Executor may serve
// concurrent executions; the feed tables and kernels passed to it must
// tolerate that on their own.
type Executor struct {
	cache     *PlanCache
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	events    *telemetry.EventPublisher
	liveCount func() int
}

// Option configures an Executor.
type Option func(*Executor)

// WithPlanCache sets the plan cache. Executors sharing a cache share plans.
func WithPlanCache(cache *PlanCache) Option {
	return func(e *Executor) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger.NewComponentLogger("engine")
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// WithEvents sets the event publisher.
func WithEvents(events *telemetry.EventPublisher) Option {
	return func(e *Executor) { e.events = events }
}

// WithTelemetry applies every component of a telemetry bundle.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Executor) {
		if t == nil {
			return
		}
		WithLogger(t.Logger)(e)
		WithMetrics(t.Metrics)(e)
		WithTracer(t.Tracer)(e)
		WithEvents(t.Events)(e)
	}
}

// WithLiveCounter sets the function the probe and the live values gauge
// sample. It defaults to tensor.NumLive.
func WithLiveCounter(fn func() int) Option {
	return func(e *Executor) {
		if fn != nil {
			e.liveCount = fn
		}
	}
}

// NewExecutor returns an executor with an unbounded plan cache and no-op
// telemetry unless configured otherwise.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		cache:     NewPlanCache(nil),
		logger:    telemetry.NewNopLogger(),
		liveCount: tensor.NumLive,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlanCache returns the executor's plan cache.
func (e *Executor) PlanCache() *PlanCache {
	return e.cache
}

// ExecuteOne evaluates a single fetch.
func (e *Executor) ExecuteOne(ctx context.Context, fetch *graph.Node, feeds *FeedDict, opts ExecuteOptions) (tensor.Value, error) {
	values, err := e.Execute(ctx, []*graph.Node{fetch}, feeds, opts)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// Execute evaluates fetches given feeds and returns one value per fetch in
// the same order. Fetches that are fed return the fed value itself.
//
// Outside training mode every intermediate value is disposed as soon as
// its last planned consumer has run, except fed values, fetched values and
// values owned by stateful kernels. The caller owns the returned values.
//
// The feed table is never modified. ctx is handed to kernels and used for
// tracing; a started execution runs to completion or to its first error.
func (e *Executor) Execute(ctx context.Context, fetches []*graph.Node, feeds *FeedDict, opts ExecuteOptions) (_ []tensor.Value, err error) {
	id := opts.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	mode := ModeInference
	if opts.Training {
		mode = ModeTraining
	}

	timer := telemetry.NewTimer()
	ctx, span := e.tracer.StartExecutionSpan(ctx, id, len(fetches), opts.Training)
	defer span.End()

	logger := e.logger.WithExecutionID(id)
	ctx = logger.WithContext(ctx)

	run := &execution{
		Executor: e,
		id:       id,
		logger:   logger,
		feeds:    feeds,
		training: opts.Training,
		probe:    opts.Probe,
	}

	defer func() {
		duration := timer.Duration()
		if err != nil {
			kind := string(KindOf(err))
			span.SetAttributes(telemetry.AttrErrorKind.String(kind))
			telemetry.RecordError(span, err)
			e.metrics.RecordExecution(mode, "error", duration)
			e.metrics.RecordError(kind)
			_ = e.events.PublishExecutionFailed(id, failedNode(err), err)
			logger.WithError(err).Debug("execution failed")
		} else {
			telemetry.RecordSuccess(span)
			e.metrics.RecordExecution(mode, "success", duration)
			_ = e.events.PublishExecutionCompleted(id, run.steps, duration)
			logger.WithFields(map[string]interface{}{
				"steps":       run.steps,
				"disposed":    run.disposed,
				"duration_ms": duration.Milliseconds(),
			}).Debug("execution completed")
		}
		e.metrics.RecordValuesDisposed(run.disposed)
		e.metrics.SetLiveValues(e.liveCount())
	}()

	if err := validateFetches(fetches); err != nil {
		return nil, err
	}
	_ = e.events.PublishExecutionStarted(id, nodeNames(fetches), opts.Training)

	plan, err := e.plan(ctx, id, fetches, feeds)
	if err != nil {
		return nil, err
	}

	return run.evaluate(ctx, plan, fetches, opts.Kwargs)
}

// plan resolves the execution plan through the cache.
func (e *Executor) plan(ctx context.Context, id string, fetches []*graph.Node, feeds *FeedDict) (*Plan, error) {
	_, span := e.tracer.StartPlanSpan(ctx, len(fetches), feeds.Len())
	defer span.End()

	start := time.Now()
	plan, hit, err := e.cache.GetOrBuild(fetches, feeds)
	e.metrics.RecordPlanCacheLookup(hit)
	span.SetAttributes(telemetry.AttrCacheHit.Bool(hit))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !hit {
		e.metrics.RecordPlanBuild(time.Since(start))
		_ = e.events.PublishPlanBuilt(id, plan.Len())
	}
	span.SetAttributes(telemetry.AttrPlanLength.Int(plan.Len()))
	return plan, nil
}

// execution is the per-call state of Execute.
type execution struct {
	*Executor

	id       string
	logger   *telemetry.Logger
	feeds    *FeedDict
	training bool
	probe    *ExecutionProbe

	working    *FeedDict
	counts     map[string]int
	fetchSlots map[string][]int
	outputs    []tensor.Value

	// produced lists the values this execution bound and may release.
	produced []*graph.Node
	// masks lists the masks computed during this execution.
	masks []tensor.Value

	steps    int
	disposed int
}

func (x *execution) evaluate(ctx context.Context, plan *Plan, fetches []*graph.Node, kwargs graph.Kwargs) (_ []tensor.Value, err error) {
	x.outputs = make([]tensor.Value, len(fetches))
	x.fetchSlots = make(map[string][]int, len(fetches))
	for i, f := range fetches {
		x.fetchSlots[f.Name()] = append(x.fetchSlots[f.Name()], i)
		if v, lookupErr := x.feeds.GetValueByName(f.Name()); lookupErr == nil {
			x.outputs[i] = v
		}
	}

	if x.training {
		x.counts = make(map[string]int)
	} else {
		x.counts = plan.CountsCopy()
	}
	x.working = x.feeds.Clone()

	base := kwargs.Clone()
	base[graph.KwargTraining] = x.training
	delete(base, graph.KwargMask)

	defer func() {
		for _, m := range x.masks {
			m.Dispose()
		}
		if err != nil {
			x.releaseProduced()
		}
	}()

	for _, node := range plan.Sorted {
		if x.probe != nil {
			x.probe.Observe(x.liveCount())
		}
		if node.IsInput() {
			continue
		}
		if err := x.step(ctx, node, base); err != nil {
			return nil, err
		}
		x.steps++
	}

	for i, v := range x.outputs {
		if v == nil {
			return nil, NewLookupError(fmt.Sprintf("fetch %q was not computed", fetches[i].Name())).
				WithNode(fetches[i].Name())
		}
	}
	return x.outputs, nil
}

// step evaluates one planned node.
func (x *execution) step(ctx context.Context, node *graph.Node, base graph.Kwargs) error {
	op := node.Operation()
	inputs := node.Inputs()

	values := make([]tensor.Value, len(inputs))
	masks := make([]tensor.Value, len(inputs))
	hasMask := false
	var release []*graph.Node
	consumed := make(map[int64]bool, len(inputs))

	for i, in := range inputs {
		v, err := x.working.GetValue(in)
		if err != nil {
			return NewLookupError(fmt.Sprintf("input %q of %q has no value", in.Name(), node.Name())).
				WithNode(node.Name()).
				WithOperation(op.Name()).
				WithDetail("input", in.Name())
		}
		values[i] = v
		if m := x.working.GetMask(in); m != nil {
			masks[i] = m
			hasMask = true
		}

		if x.training || consumed[in.ID()] {
			continue
		}
		consumed[in.ID()] = true
		x.counts[in.Name()]--
		if x.counts[in.Name()] == 0 && x.releasable(in, v) {
			release = append(release, in)
		}
	}

	// A sibling output computed earlier already holds this node's value.
	if !x.working.HasKey(node) {
		if err := x.apply(ctx, node, op, values, masks, hasMask, base); err != nil {
			return err
		}
	}

	x.dispose(release)
	return nil
}

// apply runs the kernel for node and binds the whole output group.
func (x *execution) apply(ctx context.Context, node *graph.Node, op *graph.Operation, values, masks []tensor.Value, hasMask bool, base graph.Kwargs) error {
	kwargs := base
	if hasMask {
		kwargs = base.Clone()
		kwargs[graph.KwargMask] = masks
	}

	start := time.Now()
	outs, err := op.Apply(ctx, values, kwargs)
	if err != nil {
		return NewOperationError(fmt.Sprintf("%s failed while computing %q", op.Type(), node.Name()), err).
			WithNode(node.Name()).
			WithOperation(op.Name())
	}
	x.metrics.RecordNodeApplied(op.Type(), time.Since(start))

	group, err := op.OutputsOf(node)
	if err != nil {
		disposeAll(outs, op)
		return NewInvariantError(err.Error()).WithNode(node.Name()).WithOperation(op.Name())
	}
	if len(outs) != len(group) {
		disposeAll(outs, op)
		return NewOperationError(fmt.Sprintf("%s returned %d values for %d outputs", op.Type(), len(outs), len(group)), nil).
			WithNode(node.Name()).
			WithOperation(op.Name())
	}

	var outMasks []tensor.Value
	if op.SupportsMasking() {
		outMasks, err = op.ComputeMask(values, masks)
		if err != nil {
			disposeAll(outs, op)
			return NewOperationError(fmt.Sprintf("%s failed to compute the mask of %q", op.Type(), node.Name()), err).
				WithNode(node.Name()).
				WithOperation(op.Name())
		}
		for _, m := range outMasks {
			if m != nil {
				x.masks = append(x.masks, m)
			}
		}
	}

	if x.logger.DebugEnabled() {
		x.logger.WithNode(node.Name()).
			WithOperation(op.Name(), op.Type()).
			WithField("outputs", len(outs)).
			Debug("applied operation")
	}

	var siblings []*graph.Node
	for i, out := range group {
		if x.working.HasKey(out) {
			if !op.Stateful() {
				outs[i].Dispose()
			}
			continue
		}
		x.working.bind(out, outs[i])
		x.produced = append(x.produced, out)
		if i < len(outMasks) && outMasks[i] != nil {
			x.working.masks[out.ID()] = outMasks[i]
		}
		for _, slot := range x.fetchSlots[out.Name()] {
			x.outputs[slot] = outs[i]
		}
		if out.ID() != node.ID() && !x.training && x.counts[out.Name()] == 0 && x.releasable(out, outs[i]) {
			siblings = append(siblings, out)
		}
	}

	// Siblings nobody in the plan consumes are never read again.
	x.dispose(siblings)
	return nil
}

// releasable reports whether the value bound to n may be disposed once its
// last consumer has run.
func (x *execution) releasable(n *graph.Node, v tensor.Value) bool {
	if x.feeds.HasKey(n) {
		return false
	}
	if _, fetched := x.fetchSlots[n.Name()]; fetched {
		return false
	}
	if v.IsDisposed() {
		return false
	}
	return !n.Operation().Stateful()
}

// dispose releases the values bound to nodes.
func (x *execution) dispose(nodes []*graph.Node) {
	for _, n := range nodes {
		v, err := x.working.GetValue(n)
		if err != nil || v.IsDisposed() {
			continue
		}
		v.Dispose()
		x.disposed++
	}
}

// releaseProduced disposes every non-fetched value this execution created.
// It runs only when the execution fails, so fetched values are released too.
func (x *execution) releaseProduced() {
	for _, n := range x.produced {
		if n.Operation().Stateful() {
			continue
		}
		v, err := x.working.GetValue(n)
		if err != nil || v.IsDisposed() {
			continue
		}
		v.Dispose()
		x.disposed++
	}
}

func disposeAll(values []tensor.Value, op *graph.Operation) {
	if op.Stateful() {
		return
	}
	for _, v := range values {
		if v != nil {
			v.Dispose()
		}
	}
}

func validateFetches(fetches []*graph.Node) error {
	if len(fetches) == 0 {
		return NewInvariantError("cannot execute with no fetches")
	}
	for i, f := range fetches {
		if f == nil {
			return NewInvariantError(fmt.Sprintf("fetch %d is nil", i))
		}
	}
	return nil
}

func nodeNames(nodes []*graph.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name()
	}
	return names
}

// failedNode returns the node named by an engine error, if any.
func failedNode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Node
	}
	return ""
}
