package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/openfroyo/symgraph/pkg/engine"
	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/loader"
	"github.com/openfroyo/symgraph/pkg/stores"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// session runs feed files against one built graph.
type session struct {
	app      *app
	model    *loader.Model
	pool     *tensor.Pool
	executor *engine.Executor
}

type runRequest struct {
	feedPaths []string
	fetches   []string
	training  bool
	probe     bool
	parallel  int
}

// runResult is one execution as printed and recorded.
type runResult struct {
	Feeds       string                 `json:"feeds,omitempty"`
	ExecutionID string                 `json:"execution_id"`
	DurationMS  float64                `json:"duration_ms"`
	Steps       int                    `json:"steps"`
	Values      map[string]valueOutput `json:"values,omitempty"`
	Probe       *probeOutput           `json:"probe,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ErrorKind   string                 `json:"error_kind,omitempty"`

	record *stores.Execution
	order  []string
}

type valueOutput struct {
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Data  any    `json:"data"`
	text  string
}

type probeOutput struct {
	MaxNumValues int `json:"max_num_values"`
	MinNumValues int `json:"min_num_values"`
}

func newSession(a *app, model *loader.Model) (*session, error) {
	pool := tensor.NewPool()
	executor, err := a.newExecutor(pool)
	if err != nil {
		return nil, err
	}
	return &session{app: a, model: model, pool: pool, executor: executor}, nil
}

// run executes one job per feed file, or a single job without feeds when
// none are given. Every value allocated for a job is released before run
// returns.
func (s *session) run(ctx context.Context, req runRequest) ([]runResult, error) {
	fetches, err := s.model.Resolve(req.fetches)
	if err != nil {
		return nil, err
	}
	docs, err := s.app.loadFeeds(ctx, req.feedPaths)
	if err != nil {
		return nil, err
	}

	labels := req.feedPaths
	bound := make([]*loader.BoundFeeds, 0, len(docs))
	defer func() {
		for _, b := range bound {
			b.Release()
		}
	}()
	for i, doc := range docs {
		b, err := s.model.BindFeeds(doc, s.pool)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.feedPaths[i], err)
		}
		bound = append(bound, b)
	}
	if len(bound) == 0 {
		dict, err := engine.NewFeedDict()
		if err != nil {
			return nil, err
		}
		bound = append(bound, &loader.BoundFeeds{FeedDict: dict})
		labels = []string{""}
	}

	jobs := make([]engine.BatchJob, len(bound))
	probes := make([]*engine.ExecutionProbe, len(bound))
	for i, b := range bound {
		opts := engine.ExecuteOptions{Training: req.training}
		if req.probe {
			probes[i] = engine.NewExecutionProbe()
			opts.Probe = probes[i]
		}
		jobs[i] = engine.BatchJob{Fetches: fetches, Feeds: b.FeedDict, Options: opts}
	}

	parallel := req.parallel
	if parallel <= 0 {
		parallel = s.app.cfg.Engine.MaxParallel
	}
	batch := s.executor.RunBatch(ctx, jobs, parallel)

	results := make([]runResult, len(batch))
	for i, res := range batch {
		results[i] = s.result(labels[i], fetches, bound[i].FeedDict, probes[i], req.training, res)
		releaseFetched(fetches, res.Values, bound[i].FeedDict)
	}
	return results, nil
}

func (s *session) result(label string, fetches []*graph.Node, feeds *engine.FeedDict, probe *engine.ExecutionProbe, training bool, res engine.BatchResult) runResult {
	out := runResult{
		Feeds:       label,
		ExecutionID: res.ExecutionID,
		DurationMS:  float64(res.Duration.Microseconds()) / 1000,
	}

	record := &stores.Execution{
		ID:          res.ExecutionID,
		Graph:       s.model.Graph.Name(),
		Fingerprint: s.fingerprint(fetches, feeds),
		Fetches:     nodeNames(fetches),
		Feeds:       feeds.Names(),
		Mode:        stores.ModeOf(training),
		Status:      stores.ExecutionStatusSucceeded,
		Duration:    res.Duration,
	}
	if probe != nil && probe.Samples() > 0 {
		out.Probe = &probeOutput{MaxNumValues: probe.MaxNumValues, MinNumValues: probe.MinNumValues}
		record.ProbeMax = &probe.MaxNumValues
		record.ProbeMin = &probe.MinNumValues
	}

	if res.Err != nil {
		out.Error = res.Err.Error()
		out.ErrorKind = string(engine.KindOf(res.Err))
		record.Status = stores.ExecutionStatusFailed
		record.Error = &out.Error
		if out.ErrorKind != "" {
			record.ErrorKind = &out.ErrorKind
		}
		out.record = record
		return out
	}

	if plan, _, err := s.executor.PlanCache().GetOrBuild(fetches, feeds); err == nil {
		out.Steps = plan.Len()
		record.Steps = plan.Len()
	}

	out.Values = make(map[string]valueOutput, len(fetches))
	for i, fetch := range fetches {
		name := fetch.Name()
		if _, seen := out.Values[name]; seen {
			continue
		}
		out.Values[name] = describeValue(res.Values[i])
		out.order = append(out.order, name)
	}
	out.record = record
	return out
}

// fingerprint identifies the execution signature across processes: the
// graph document, the fetched names and the fed names.
func (s *session) fingerprint(fetches []*graph.Node, feeds *engine.FeedDict) string {
	d := xxhash.New()
	if doc, err := json.Marshal(s.model.Document); err == nil {
		_, _ = d.Write(doc)
	}
	_, _ = d.WriteString("|" + strings.Join(nodeNames(fetches), ","))
	names := feeds.Names()
	sort.Strings(names)
	_, _ = d.WriteString("|" + strings.Join(names, ","))
	return fmt.Sprintf("%016x", d.Sum64())
}

// releaseFetched disposes fetched values the caller owns: everything that
// is neither a feed nor the output of a stateful operation.
func releaseFetched(fetches []*graph.Node, values []tensor.Value, feeds *engine.FeedDict) {
	for i, v := range values {
		if v == nil || feeds.HasKey(fetches[i]) {
			continue
		}
		if op := fetches[i].Operation(); op != nil && op.Stateful() {
			continue
		}
		v.Dispose()
	}
}

func describeValue(v tensor.Value) valueOutput {
	out := valueOutput{Shape: v.Shape(), DType: string(v.DType())}
	t, err := tensor.AsTensor(v)
	if err != nil {
		out.text = err.Error()
		return out
	}
	out.text = t.String()
	if t.DType() == tensor.String {
		out.Data, _ = t.Strings()
		return out
	}
	nums, _ := t.Numbers()
	if t.DType() == tensor.Bool {
		bits := make([]bool, len(nums))
		for i, n := range nums {
			bits[i] = n != 0
		}
		out.Data = bits
		return out
	}
	out.Data = nums
	return out
}

func nodeNames(nodes []*graph.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name()
	}
	return names
}
