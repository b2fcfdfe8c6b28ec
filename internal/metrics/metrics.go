// Package metrics exposes Prometheus collectors for the frontier crawler.
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
	frontierItemsTotal            *prometheus.CounterVec
	frontierDispatchSeconds       *prometheus.HistogramVec
	frontierStoreRetriesTotal     *prometheus.CounterVec
	frontierStoreUnavailableTotal *prometheus.CounterVec
	frontierRestoreTotal          *prometheus.CounterVec
	crawlerDownloadBytesTotal     *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		frontierItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_items_total",
				Help: "Frontier items handled by the crawl loop, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		frontierDispatchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "frontier_dispatch_duration_seconds",
				Help:    "Histogram of collaborator dispatch latencies, labeled by item kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		)

		frontierStoreRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_store_retries_total",
				Help: "Frontier store operations retried after a transient failure, labeled by operation.",
			},
			[]string{"op"},
		)

		frontierStoreUnavailableTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_store_unavailable_total",
				Help: "Frontier store operations that exhausted their retries, labeled by operation.",
			},
			[]string{"op"},
		)

		frontierRestoreTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_restore_total",
				Help: "Startup restore attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerDownloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_download_bytes_total",
				Help: "Total number of file bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveItem counts one resolved frontier item and its dispatch latency.
func ObserveItem(kind, outcome string, duration time.Duration) {
	Init()
	frontierItemsTotal.WithLabelValues(kind, outcome).Inc()
	if duration > 0 {
		frontierDispatchSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveDiscarded counts an item dropped before dispatch.
func ObserveDiscarded(kind, reason string) {
	Init()
	frontierItemsTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveStoreRetry counts one retried store operation.
func ObserveStoreRetry(op string) {
	Init()
	frontierStoreRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveStoreUnavailable counts one store operation that gave up.
func ObserveStoreUnavailable(op string) {
	Init()
	frontierStoreUnavailableTotal.WithLabelValues(op).Inc()
}

// ObserveRestore counts one restore attempt.
func ObserveRestore(outcome string) {
	Init()
	frontierRestoreTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownload adds downloaded bytes for the site of rawURL.
func ObserveDownload(rawURL string, bytes int64) {
	Init()
	if bytes > 0 {
		crawlerDownloadBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytes))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
