package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for graphpatch. A nil *Metrics and a
// disabled instance are both safe to call.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansCreated  *prometheus.CounterVec
	planRejected  *prometheus.CounterVec
	plannedAction prometheus.Histogram

	// Apply metrics
	gateRejections *prometheus.CounterVec
	appliesTotal   *prometheus.CounterVec
	applyDuration  prometheus.Histogram

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Housekeeping metrics
	patchesExpired  prometheus.Counter
	registryReloads *prometheus.CounterVec
	registryEntries prometheus.Gauge
	errorsByClass   *prometheus.CounterVec

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

		plansCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_created_total",
				Help:      "Total number of patches planned",
			},
			[]string{"destructive"},
		),
		planRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_rejected_total",
				Help:      "Total number of scripts rejected at plan time",
			},
			[]string{"reason"},
		),
		plannedAction: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_actions",
				Help:      "Number of actions per planned patch",
				Buckets:   prometheus.LinearBuckets(5, 5, 10),
			},
		),

		gateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apply_gate_rejections_total",
				Help:      "Total number of apply requests stopped by a gate",
			},
			[]string{"gate"},
		),
		appliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_total",
				Help:      "Total number of patches applied",
			},
			[]string{"status"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of patch execution in seconds",
				Buckets:   buckets,
			},
		),

		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"handler", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of a single action in seconds",
				Buckets:   buckets,
			},
			[]string{"handler"},
		),

		patchesExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patches_expired_total",
				Help:      "Total number of pending patches discarded after their TTL",
			},
		),
		registryReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_reloads_total",
				Help:      "Total number of operation registry reloads",
			},
			[]string{"status"},
		),
		registryEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_operations",
				Help:      "Number of operations in the active registry table",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.plansCreated,
		m.planRejected,
		m.plannedAction,
		m.gateRejections,
		m.appliesTotal,
		m.applyDuration,
		m.actionsExecuted,
		m.actionDuration,
		m.patchesExpired,
		m.registryReloads,
		m.registryEntries,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordPlanCreated counts a stored patch.
func (m *Metrics) RecordPlanCreated(actions int, destructive bool) {
	if !m.enabled() {
		return
	}
	label := "false"
	if destructive {
		label = "true"
	}
	m.plansCreated.WithLabelValues(label).Inc()
	m.plannedAction.Observe(float64(actions))
}

// RecordPlanRejected counts a script that could not be planned.
func (m *Metrics) RecordPlanRejected(reason string) {
	if !m.enabled() {
		return
	}
	m.planRejected.WithLabelValues(reason).Inc()
}

// RecordGateRejection counts an apply stopped by the named gate.
func (m *Metrics) RecordGateRejection(gate string) {
	if !m.enabled() {
		return
	}
	m.gateRejections.WithLabelValues(gate).Inc()
}

// RecordApply records a finished patch execution.
func (m *Metrics) RecordApply(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.appliesTotal.WithLabelValues(status).Inc()
	m.applyDuration.Observe(duration.Seconds())
}

// RecordAction records one executed action.
func (m *Metrics) RecordAction(handler, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.actionsExecuted.WithLabelValues(handler, status).Inc()
	m.actionDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordPatchesExpired counts patches dropped after their TTL.
func (m *Metrics) RecordPatchesExpired(n int) {
	if !m.enabled() || n <= 0 {
		return
	}
	m.patchesExpired.Add(float64(n))
}

// RecordRegistryReload records a reload attempt and the resulting table size.
func (m *Metrics) RecordRegistryReload(status string, entries int) {
	if !m.enabled() {
		return
	}
	m.registryReloads.WithLabelValues(status).Inc()
	if status == "success" {
		m.registryEntries.Set(float64(entries))
	}
}

// RecordError records an error by its class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass, errorCode).Inc()
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background. It does
// nothing when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
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
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
