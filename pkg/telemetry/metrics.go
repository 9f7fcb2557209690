package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for graph execution.
// Every Record method is a no-op when metrics are disabled or m is nil.
type Metrics struct {
	config MetricsConfig

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	planCacheLookups  *prometheus.CounterVec
	planDuration      prometheus.Histogram
	nodesApplied      *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	valuesDisposed    prometheus.Counter
	liveValues        prometheus.Gauge
	errorsByKind      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of graph executions",
			},
			[]string{"mode", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of graph executions in seconds",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),
		planCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_cache_lookups_total",
				Help:      "Plan cache lookups by result",
			},
			[]string{"result"},
		),
		planDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_build_duration_seconds",
				Help:      "Time spent computing plans on cache misses",
				Buckets:   buckets,
			},
		),
		nodesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_applied_total",
				Help:      "Operations applied, by kernel type",
			},
			[]string{"op"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_apply_duration_seconds",
				Help:      "Duration of single operation applications",
				Buckets:   buckets,
			},
			[]string{"op"},
		),
		valuesDisposed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "values_disposed_total",
				Help:      "Intermediate values released by the engine",
			},
		),
		liveValues: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_values",
				Help:      "Live values observed at the last execution step",
			},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Failed executions by error kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.executions,
		m.executionDuration,
		m.planCacheLookups,
		m.planDuration,
		m.nodesApplied,
		m.nodeDuration,
		m.valuesDisposed,
		m.liveValues,
		m.errorsByKind,
	)

	return m, nil
}

// NewNopMetrics returns a disabled collector.
func NewNopMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordExecution records a finished execution.
func (m *Metrics) RecordExecution(mode, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.executions.WithLabelValues(mode, status).Inc()
	m.executionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordPlanCacheLookup records a plan cache hit or miss.
func (m *Metrics) RecordPlanCacheLookup(hit bool) {
	if !m.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.planCacheLookups.WithLabelValues(result).Inc()
}

// RecordPlanBuild records the time spent computing a plan.
func (m *Metrics) RecordPlanBuild(duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.planDuration.Observe(duration.Seconds())
}

// RecordNodeApplied records one operation application.
func (m *Metrics) RecordNodeApplied(opType string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.nodesApplied.WithLabelValues(opType).Inc()
	m.nodeDuration.WithLabelValues(opType).Observe(duration.Seconds())
}

// RecordValuesDisposed adds n released values.
func (m *Metrics) RecordValuesDisposed(n int) {
	if !m.enabled() || n == 0 {
		return
	}
	m.valuesDisposed.Add(float64(n))
}

// SetLiveValues sets the live value gauge.
func (m *Metrics) SetLiveValues(n int) {
	if !m.enabled() {
		return
	}
	m.liveValues.Set(float64(n))
}

// RecordError records a failed execution by error kind.
func (m *Metrics) RecordError(kind string) {
	if !m.enabled() {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer measures elapsed time.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("serving metrics on %s%s", m.config.ListenAddress, path)
	return nil
}
