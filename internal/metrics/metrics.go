// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the tierd collectors. All methods are safe on a nil receiver
// so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal          *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	migrationDuration  prometheus.Histogram
	retriesTotal       prometheus.Counter
	evaluationsTotal   *prometheus.CounterVec
	predictionFallback prometheus.Counter
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierd_migration_jobs_total",
				Help: "Migration tasks finished, by terminal result",
			},
			[]string{"result"},
		),

		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tierd_migration_queue",
				Help: "Migration tasks per status",
			},
			[]string{"status"},
		),

		migrationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tierd_migration_duration_seconds",
				Help:    "Wall time from claim to terminal status",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),

		retriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tierd_migration_retries_total",
				Help: "Retries spent on transient migration failures",
			},
		),

		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierd_placement_evaluations_total",
				Help: "Placement evaluations, by outcome",
			},
			[]string{"outcome"},
		),

		predictionFallback: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tierd_prediction_fallback_total",
				Help: "Scores computed without a usable prediction",
			},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMigration records one finished task
func (m *Metrics) ObserveMigration(result string, d time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(result).Inc()
	m.migrationDuration.Observe(d.Seconds())
	if attempts > 1 {
		m.retriesTotal.Add(float64(attempts - 1))
	}
}

// SetQueueDepth sets the gauge for one status
func (m *Metrics) SetQueueDepth(status string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(float64(n))
}

// ObserveEvaluation counts a placement evaluation
func (m *Metrics) ObserveEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
}

// PredictionFallback counts a decay-only score
func (m *Metrics) PredictionFallback() {
	if m == nil {
		return
	}
	m.predictionFallback.Inc()
}
