// Package metrics provides Prometheus instrumentation for the HTTP
// transport and the ingest/answer pipelines, grounded on the teacher's
// pkg/observability/metrics.go but scoped down to this system's
// domain: HTTP requests, ingestion throughput, and retrieval latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the server exposes. A nil
// *Metrics is valid and every Record* method becomes a no-op, so
// instrumentation can be wired unconditionally without a feature flag.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ingestDuration  *prometheus.HistogramVec
	ingestChunks    *prometheus.HistogramVec
	ingestFailures  *prometheus.CounterVec

	queryDuration  *prometheus.HistogramVec
	retrievalHits  *prometheus.CounterVec
	retrievalEmpty *prometheus.CounterVec
}

// New creates a fresh registry and registers every collector.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status class.",
		},
		[]string{"method", "route", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scholarag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.ingestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scholarag",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Ingestion pipeline duration per paper, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4m
		},
		[]string{"status"},
	)
	m.ingestChunks = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scholarag",
			Subsystem: "ingest",
			Name:      "chunks_count",
			Help:      "Number of chunks produced per ingested paper.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 10),
		},
		[]string{},
	)
	m.ingestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of ingestion failures by error kind.",
		},
		[]string{"kind"},
	)

	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scholarag",
			Subsystem: "answer",
			Name:      "query_duration_seconds",
			Help:      "End-to-end answer latency (retrieve + rerank + generate), in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"scoped"},
	)
	m.retrievalHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Subsystem: "answer",
			Name:      "retrieval_hits_total",
			Help:      "Total retrievals that returned at least one document.",
		},
		[]string{},
	)
	m.retrievalEmpty = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholarag",
			Subsystem: "answer",
			Name:      "retrieval_empty_total",
			Help:      "Total retrievals that returned zero documents.",
		},
		[]string{},
	)

	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.ingestDuration, m.ingestChunks, m.ingestFailures,
		m.queryDuration, m.retrievalHits, m.retrievalEmpty,
	)
	return m
}

// Handler returns the promhttp handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordIngest records the outcome of one ingestion run.
func (m *Metrics) RecordIngest(status string, duration time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(status).Observe(duration.Seconds())
	if chunks > 0 {
		m.ingestChunks.WithLabelValues().Observe(float64(chunks))
	}
}

// RecordIngestFailure records an ingestion failure by ragerr.Kind.
func (m *Metrics) RecordIngestFailure(kind string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(kind).Inc()
}

// RecordQuery records one answer-engine query.
func (m *Metrics) RecordQuery(scoped bool, duration time.Duration, resultCount int) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(scopedLabel(scoped)).Observe(duration.Seconds())
	if resultCount > 0 {
		m.retrievalHits.WithLabelValues().Inc()
	} else {
		m.retrievalEmpty.WithLabelValues().Inc()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func scopedLabel(scoped bool) string {
	if scoped {
		return "session"
	}
	return "global"
}
