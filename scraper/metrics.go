package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the mirror job.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RowsTotal         prometheus.Counter
	ArtifactsTotal    *prometheus.CounterVec
	SkippedLinksTotal prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_requests_total",
			Help: "Total HTTP requests issued by the mirror job.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirror_request_duration_seconds",
			Help:    "HTTP request latency for mirror requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_rows_total",
			Help: "Total schedule rows dispatched for processing.",
		},
	)
	artifacts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_artifacts_enqueued_total",
			Help: "Total artifacts handed to the pipeline, by kind.",
		},
		[]string{"kind"},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_skipped_links_total",
			Help: "Total links dropped for notebook id anomalies.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_errors_total",
			Help: "Total request errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, rows, artifacts, skipped, errorsTotal)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RowsTotal:         rows,
		ArtifactsTotal:    artifacts,
		SkippedLinksTotal: skipped,
		ErrorsTotal:       errorsTotal,
	}
}

// IncRequest increments the requests counter for a phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRow increments the processed rows counter.
func (m *Metrics) IncRow() {
	if m == nil {
		return
	}
	m.RowsTotal.Inc()
}

// IncArtifact increments the enqueued artifacts counter for a kind.
func (m *Metrics) IncArtifact(kind string) {
	if m == nil {
		return
	}
	m.ArtifactsTotal.WithLabelValues(kind).Inc()
}

// IncSkipped increments the skipped links counter.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.SkippedLinksTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
