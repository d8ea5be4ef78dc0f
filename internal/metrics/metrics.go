// Package metrics exposes Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes recorded by RecordRun.
const (
	OutcomeGenerated = "generated"
	OutcomeEmpty     = "empty"
	OutcomeCached    = "cached"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Metrics holds every Kestrel collector on a private registry,
// so several instances can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	sampleSize    *prometheus.HistogramVec
	coverage      *prometheus.HistogramVec
	cacheRequests *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates a registry with the Go and process collectors plus Kestrel's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_sampling_runs_total",
				Help: "Sampling runs by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_sampling_run_duration_seconds",
				Help:    "Duration of sampling runs including ledger load.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		sampleSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_sample_size",
				Help:    "Actual sample size of generated plans.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"method"},
		),
		coverage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_sample_coverage_percent",
				Help:    "Monetary coverage of generated plans.",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"method"},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_result_cache_requests_total",
				Help: "Result cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		publishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_event_publish_errors_total",
				Help: "Events that could not be published, by topic.",
			},
			[]string{"topic"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_http_requests_total",
				Help: "HTTP requests by route pattern and status code.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordRun counts one sampling run and, for fresh results, its size and coverage.
func (m *Metrics) RecordRun(method, outcome string, d time.Duration, actualSize int, coverage float64) {
	m.runsTotal.WithLabelValues(method, outcome).Inc()
	m.runDuration.WithLabelValues(method).Observe(d.Seconds())
	if outcome == OutcomeGenerated || outcome == OutcomeEmpty {
		m.sampleSize.WithLabelValues(method).Observe(float64(actualSize))
		m.coverage.WithLabelValues(method).Observe(coverage)
	}
}

// CacheHit counts a result cache hit.
func (m *Metrics) CacheHit() { m.cacheRequests.WithLabelValues("hit").Inc() }

// CacheMiss counts a result cache miss.
func (m *Metrics) CacheMiss() { m.cacheRequests.WithLabelValues("miss").Inc() }

// CacheError counts a failed result cache lookup.
func (m *Metrics) CacheError() { m.cacheRequests.WithLabelValues("error").Inc() }

// PublishError counts an event that could not be published.
func (m *Metrics) PublishError(topic string) {
	m.publishErrors.WithLabelValues(topic).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
