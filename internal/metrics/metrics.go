// Package metrics exposes Prometheus collectors for the docket pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	casesTotal                 *prometheus.CounterVec
	caseDurationSeconds        *prometheus.HistogramVec
	attachmentsTotal           *prometheus.CounterVec
	attachmentBytesTotal       *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	enqueueTotal               *prometheus.CounterVec
	enrichmentCallsTotal       *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		casesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_cases_total",
				Help: "Total number of cases processed, labeled by jurisdiction and outcome.",
			},
			[]string{"jurisdiction", "status"},
		)

		caseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docket_case_duration_seconds",
				Help:    "Histogram of case processing latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"status"},
		)

		attachmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_attachments_total",
				Help: "Total number of attachments resolved, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		attachmentBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_attachment_bytes_total",
				Help: "Total number of attachment bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_fetch_retries_total",
				Help: "Total number of attachment fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docket_fetch_rate_limit_delay_seconds",
				Help:    "Time attachment downloads spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"site"},
		)

		enqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_enqueue_total",
				Help: "Total number of enqueue requests, labeled by result.",
			},
			[]string{"result"},
		)

		enrichmentCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_enrichment_calls_total",
				Help: "Total number of enrichment calls, labeled by purpose and result.",
			},
			[]string{"purpose", "result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docket_active_workers",
				Help: "Number of workers currently processing a case.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docket_queue_depth",
				Help: "Number of cases waiting in the queue.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observers below call Init so packages can record without depending on
// startup order.

// ObserveCase records a terminal case outcome.
func ObserveCase(jurisdiction, status string, duration time.Duration) {
	Init()
	casesTotal.WithLabelValues(jurisdiction, status).Inc()
	caseDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveAttachment records one attachment resolution and the bytes it cost.
func ObserveAttachment(sourceURL, status string, bytesFetched int64) {
	Init()
	site := SanitizeSite(sourceURL)
	attachmentsTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		attachmentBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry counts a retried fetch attempt.
func ObserveFetchRetry(sourceURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(sourceURL)).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a host token.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveEnqueue counts an enqueue by result (admitted, coalesced, rejected).
func ObserveEnqueue(result string) {
	Init()
	enqueueTotal.WithLabelValues(result).Inc()
}

// ObserveEnrichment counts an enrichment call.
func ObserveEnrichment(purpose, result string) {
	Init()
	enrichmentCallsTotal.WithLabelValues(purpose, result).Inc()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
