package engine

import (
	"context"
	"sync"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

var (
	defaultMu       sync.RWMutex
	defaultExecutor = NewExecutor()
)

// Default returns the process-wide executor used by Execute and ExecuteOne.
func Default() *Executor {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultExecutor
}

// SetDefault replaces the process-wide executor. A nil executor restores a
// fresh one with an empty plan cache.
func SetDefault(e *Executor) {
	if e == nil {
		e = NewExecutor()
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultExecutor = e
}

// Execute evaluates fetches with the default executor.
func Execute(ctx context.Context, fetches []*graph.Node, feeds *FeedDict, opts ExecuteOptions) ([]tensor.Value, error) {
	return Default().Execute(ctx, fetches, feeds, opts)
}

// ExecuteOne evaluates a single fetch with the default executor.
func ExecuteOne(ctx context.Context, fetch *graph.Node, feeds *FeedDict, opts ExecuteOptions) (tensor.Value, error) {
	return Default().ExecuteOne(ctx, fetch, feeds, opts)
}
