// Package telemetry provides the observability stack for graph execution.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event publisher behind one
// Telemetry bundle:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := engine.NewExecutor(engine.WithTelemetry(tel))
//
// # Logging
//
// Loggers are component scoped and carry execution fields:
//
//	logger := tel.Logger.NewComponentLogger("engine").WithExecutionID(id)
//	logger.WithNode("dense_1").WithOperation("dense", "MatMul").Debug("applied operation")
//
// # Tracing
//
// Every execution opens an engine.execute span with a child engine.plan
// span for the plan cache lookup. Exporters are otlp, stdout or none.
//
// # Metrics
//
// When enabled, the collector exposes execution counts and latencies,
// plan cache hits and misses, per-operation apply counts, disposed values
// and the live value gauge. Every recording method is a no-op on a
// disabled or nil collector.
//
// # Events
//
// The publisher emits execution.started, plan.built, execution.completed,
// execution.failed and graph.reloaded events. Subscribers may filter by
// type or execution ID.
package telemetry
