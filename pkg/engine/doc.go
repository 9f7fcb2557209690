// Package engine evaluates symbolic graphs.
//
// # Overview
//
// An execution takes a set of fetches (the nodes whose values are wanted)
// and a FeedDict binding concrete values to some nodes. It runs in three
// phases:
//
//  1. Plan - BuildPlan walks backwards from the fetches, stopping at fed
//     nodes, and returns the nodes to evaluate in dependency order along
//     with the number of distinct consumers of every node.
//  2. Cache - PlanCache memoizes plans by fetch names, fetch fingerprints
//     and feed names, so repeated executions skip planning.
//  3. Run - Executor.Execute applies each planned operation in order,
//     disposing intermediate values once their last consumer has run.
//
// # Feeds
//
// FeedDict.Add checks a value against the node's declared shape, where -1
// matches any size, and casts it to the declared dtype:
//
//	feeds, err := engine.NewFeedDict(engine.Feed{Node: x, Value: value})
//
// Shape mismatches are ShapeErrors, impossible casts are TypeErrors and
// binding a node twice is a DuplicateKeyError.
//
// # Memory
//
// Outside training mode an intermediate value is released as soon as the
// last planned consumer has read it. Fed values, fetched values and values
// owned by stateful kernels are never released by the engine. In training
// mode nothing is released, since the intermediates are needed later.
//
// An ExecutionProbe records the smallest and largest number of live values
// seen during an execution, which makes the release schedule observable.
//
// # Errors
//
// Every error returned by this package is an *EngineError with one of the
// kinds in ErrorKind. Kernel failures are OperationErrors that unwrap to the
// kernel's own error:
//
//	if engine.IsOperationError(err) {
//	    cause := errors.Unwrap(err)
//	}
//
// # Telemetry
//
// Executors log through zerolog, record Prometheus metrics, open an
// OpenTelemetry span per execution and publish lifecycle events. All of
// these default to no-ops; see WithTelemetry.
package engine
