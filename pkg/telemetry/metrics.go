package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator. When metrics are
// disabled every method is a no-op, so call sites never branch.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	stacksDeployed *prometheus.CounterVec
	stackDuration  *prometheus.HistogramVec

	activeStacks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of deployment runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of deployment runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of deployment runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stacksDeployed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stacks_deployed_total",
				Help:      "Total number of stack deployments by terminal state",
			},
			[]string{"status"},
		),
		stackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stack_deploy_duration_seconds",
				Help:      "Duration of individual stack deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeStacks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_stacks",
				Help:      "Number of stack deployments currently in flight",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.stacksDeployed, m.stackDuration, m.activeStacks,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RunStarted records the start of a run.
func (m *Metrics) RunStarted() {
	if m.registry == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RunCompleted(status string, seconds float64) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(seconds)
}

// StackStarted records a stack deployment entering flight.
func (m *Metrics) StackStarted() {
	if m.registry == nil {
		return
	}
	m.activeStacks.Inc()
}

// StackCompleted records a stack deployment reaching a terminal state.
func (m *Metrics) StackCompleted(status string, seconds float64) {
	if m.registry == nil {
		return
	}
	m.activeStacks.Dec()
	m.stacksDeployed.WithLabelValues(status).Inc()
	if seconds > 0 {
		m.stackDuration.WithLabelValues(status).Observe(seconds)
	}
}

// StackBlocked records a stack that never ran because of an upstream failure.
func (m *Metrics) StackBlocked() {
	if m.registry == nil {
		return
	}
	m.stacksDeployed.WithLabelValues("blocked").Inc()
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
