package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Kiln engine.
type Metrics struct {
	config MetricsConfig

	// Action metrics
	actionsStarted   *prometheus.CounterVec
	actionsCompleted *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec

	// Poll metrics
	probes *prometheus.CounterVec

	// Resource metrics
	resourcesManaged *prometheus.GaugeVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeActions prometheus.Gauge
	queuedTasks   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Action metrics
		actionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_started_total",
				Help:      "Total number of lifecycle actions started",
			},
			[]string{"resource_type", "action"},
		),
		actionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_completed_total",
				Help:      "Total number of lifecycle actions resolved",
			},
			[]string{"resource_type", "action", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of lifecycle actions in seconds",
				Buckets:   buckets,
			},
			[]string{"resource_type", "action", "status"},
		),

		// Poll metrics
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_probes_total",
				Help:      "Total number of remote status probes issued",
			},
			[]string{"resource_type"},
		),

		// Resource metrics
		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Current number of managed resources",
			},
			[]string{"resource_type", "status"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of lifecycle errors by kind",
			},
			[]string{"kind"},
		),

		// System metrics
		activeActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_actions",
				Help:      "Current number of actions in flight",
			},
		),
		queuedTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_tasks",
				Help:      "Current number of tasks waiting for a worker",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.actionsStarted,
		m.actionsCompleted,
		m.actionDuration,
		m.probes,
		m.resourcesManaged,
		m.errorsByKind,
		m.activeActions,
		m.queuedTasks,
	)

	return m, nil
}

// Action Metrics

// RecordActionStarted increments the counter for started actions.
func (m *Metrics) RecordActionStarted(resourceType, action string) {
	if m.actionsStarted == nil {
		return
	}
	m.actionsStarted.WithLabelValues(resourceType, action).Inc()
	m.activeActions.Inc()
}

// RecordActionCompleted records a resolved action with its status and duration.
func (m *Metrics) RecordActionCompleted(resourceType, action, status string, duration time.Duration) {
	if m.actionsCompleted == nil {
		return
	}
	m.actionsCompleted.WithLabelValues(resourceType, action, status).Inc()
	m.actionDuration.WithLabelValues(resourceType, action, status).Observe(duration.Seconds())
	m.activeActions.Dec()
}

// Poll Metrics

// RecordProbe records one remote status probe.
func (m *Metrics) RecordProbe(resourceType string) {
	if m.probes == nil {
		return
	}
	m.probes.WithLabelValues(resourceType).Inc()
}

// Resource Metrics

// SetResourceCount sets the current count of managed resources.
func (m *Metrics) SetResourceCount(resourceType, status string, count float64) {
	if m.resourcesManaged == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(resourceType, status).Set(count)
}

// Error Metrics

// RecordError records a lifecycle error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// System Metrics

// SetQueuedTasks sets the current number of queued tasks.
func (m *Metrics) SetQueuedTasks(count float64) {
	if m.queuedTasks == nil {
		return
	}
	m.queuedTasks.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
