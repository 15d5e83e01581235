// Package metrics exposes conversion counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nlcal"

// Event outcome labels.
const (
	OutcomeWritten    = "written"
	OutcomeBuilt      = "built"
	OutcomeBuildError = "build_error"
	OutcomeSinkError  = "sink_error"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	descriptions   *prometheus.CounterVec
	events         *prometheus.CounterVec
	rejected       prometheus.Counter
	handoffFailed  prometheus.Counter
	extractLatency prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		descriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptions_total",
			Help:      "Descriptions processed, by result (ok or failed).",
		}, []string{"result"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Extracted events, by outcome.",
		}, []string{"outcome"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Extracted candidates that failed record validation.",
		}),
		handoffFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_failures_total",
			Help:      "Written files the system opener could not open.",
		}),
		extractLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_duration_seconds",
			Help:      "Time spent in the extraction service per description.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DescriptionProcessed counts one description by whether extraction succeeded.
func (m *Metrics) DescriptionProcessed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.descriptions.WithLabelValues(result).Inc()
}

// EventOutcome counts one extracted event under the given Outcome label.
func (m *Metrics) EventOutcome(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

// Rejected adds n candidates dropped by record validation.
func (m *Metrics) Rejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rejected.Add(float64(n))
}

// HandoffFailed counts a written file the opener could not hand off.
func (m *Metrics) HandoffFailed() {
	if m == nil {
		return
	}
	m.handoffFailed.Inc()
}

// ObserveExtract records the duration of one extractor call.
func (m *Metrics) ObserveExtract(d time.Duration) {
	if m == nil {
		return
	}
	m.extractLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
