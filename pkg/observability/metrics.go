// Package observability exposes Prometheus metrics for the dispatch
// pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every pipeline collector. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	batches         prometheus.Counter
	batchSize       prometheus.Histogram
	outcomes        *prometheus.CounterVec
	recordDuration  *prometheus.HistogramVec
	tokens          prometheus.Counter
	classifications *prometheus.CounterVec
	heartbeats      prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry together with the
// Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnrelay_batches_total",
			Help: "Batches processed by the dispatcher",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "turnrelay_batch_size",
			Help:    "Records per processed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnrelay_record_outcomes_total",
			Help: "Record outcomes by status and action",
		}, []string{"status", "action"}),
		recordDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turnrelay_record_duration_seconds",
			Help:    "Time spent handling one record",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"action"}),
		tokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnrelay_stream_tokens_total",
			Help: "Token notifications emitted",
		}),
		classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnrelay_failure_classifications_total",
			Help: "Failed records by matched error rule",
		}, []string{"rule"}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Name: "turnrelay_heartbeats_total",
			Help: "Heartbeat notifications emitted",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) ObserveOutcome(status, action string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.outcomes.WithLabelValues(status, action).Inc()
	m.recordDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) IncTokens() {
	if m == nil {
		return
	}
	m.tokens.Inc()
}

func (m *Metrics) IncHeartbeats() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) ObserveClassification(rule string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(rule).Inc()
}
