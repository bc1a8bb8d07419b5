// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline: cache effectiveness, rate limiting, and upstream AI calls.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for kolscope metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	analysesTotal    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	cacheWrites      *prometheus.CounterVec
	rateLimitChecks  *prometheus.CounterVec
	upstreamAttempts *prometheus.CounterVec

	analysisDuration *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	storeDuration    *prometheus.HistogramVec

	activeRequests prometheus.Gauge
}

// Default histogram buckets for analysis duration (in milliseconds). The
// upstream AI call dominates, so buckets stretch well into the seconds.
var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

var (
	promMetrics *PrometheusMetrics
	initOnce    sync.Once
)

// Init initializes the Prometheus metrics subsystem.
func Init(namespace string, buckets []float64) {
	initOnce.Do(func() {
		if len(buckets) == 0 {
			buckets = defaultBuckets
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(prometheus.NewGoCollector())
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

		pm := &PrometheusMetrics{
			registry: registry,

			analysesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "analyses_total",
					Help:      "Total analysis requests by language, mode and outcome",
				},
				[]string{"language", "mode", "status"},
			),

			cacheLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "cache_lookups_total",
					Help:      "Report cache lookups by result (hit, miss, expired, error, bypass)",
				},
				[]string{"result"},
			),

			cacheWrites: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "cache_writes_total",
					Help:      "Report cache writes by result (ok, error)",
				},
				[]string{"result"},
			),

			rateLimitChecks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rate_limit_checks_total",
					Help:      "Rate limit checks by result (allowed, denied, fail_open)",
				},
				[]string{"result"},
			),

			upstreamAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "upstream_attempts_total",
					Help:      "Upstream AI call attempts by outcome (ok, retryable, terminal, malformed)",
				},
				[]string{"outcome"},
			),

			analysisDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "analysis_duration_milliseconds",
					Help:      "End-to-end analysis duration in milliseconds",
					Buckets:   buckets,
				},
				[]string{"source"}, // api, cache
			),

			upstreamDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "upstream_duration_milliseconds",
					Help:      "Duration of upstream AI calls in milliseconds",
					Buckets:   buckets,
				},
				[]string{"model"},
			),

			storeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_operation_milliseconds",
					Help:      "Blob store operation latency in milliseconds",
					Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
				},
				[]string{"operation"}, // list, fetch, put
			),

			activeRequests: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_requests",
					Help:      "Number of analysis requests currently in flight",
				},
			),
		}

		registry.MustRegister(
			pm.analysesTotal,
			pm.cacheLookups,
			pm.cacheWrites,
			pm.rateLimitChecks,
			pm.upstreamAttempts,
			pm.analysisDuration,
			pm.upstreamDuration,
			pm.storeDuration,
			pm.activeRequests,
		)

		promMetrics = pm
	})
}

func get() *PrometheusMetrics {
	if promMetrics == nil {
		Init("kolscope", nil)
	}
	return promMetrics
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(get().registry, promhttp.HandlerOpts{})
}

// RecordAnalysis records a completed analysis request.
func RecordAnalysis(language, mode, status, source string, d time.Duration) {
	m := get()
	m.analysesTotal.WithLabelValues(language, mode, status).Inc()
	if source != "" {
		m.analysisDuration.WithLabelValues(source).Observe(float64(d.Milliseconds()))
	}
}

// RecordCacheLookup records a report cache lookup result.
func RecordCacheLookup(result string) {
	get().cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite records a report cache write result.
func RecordCacheWrite(result string) {
	get().cacheWrites.WithLabelValues(result).Inc()
}

// RecordRateLimit records a rate limit check result.
func RecordRateLimit(result string) {
	get().rateLimitChecks.WithLabelValues(result).Inc()
}

// RecordUpstreamAttempt records one upstream AI call attempt.
func RecordUpstreamAttempt(outcome, model string, d time.Duration) {
	m := get()
	m.upstreamAttempts.WithLabelValues(outcome).Inc()
	m.upstreamDuration.WithLabelValues(model).Observe(float64(d.Milliseconds()))
}

// RecordStoreOperation records blob store operation latency.
func RecordStoreOperation(operation string, d time.Duration) {
	get().storeDuration.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

// RequestStarted marks an analysis request as in flight.
func RequestStarted() { get().activeRequests.Inc() }

// RequestFinished marks an analysis request as complete.
func RequestFinished() { get().activeRequests.Dec() }
