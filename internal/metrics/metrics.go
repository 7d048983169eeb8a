// Package metrics exposes Prometheus collectors for the scrape job service.
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
	scrapeRunsTotal              *prometheus.CounterVec
	scrapeFetchDurationSeconds   *prometheus.HistogramVec
	scrapeBytesTotal             *prometheus.CounterVec
	scrapeRecordsTotal           *prometheus.CounterVec
	scrapeActiveRuns             prometheus.Gauge
	scrapePersistFailuresTotal   *prometheus.CounterVec
	scrapeRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_runs_total",
				Help: "Total number of job runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scrapeFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		scrapeBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_bytes_total",
				Help: "Total number of markup bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scrapeRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_records_extracted_total",
				Help: "Total number of records extracted, labeled by site.",
			},
			[]string{"site"},
		)

		scrapeActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_runs",
				Help: "Number of job runs currently in flight.",
			},
		)

		scrapePersistFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_persist_failures_total",
				Help: "Persistence calls that failed during a run, labeled by stage.",
			},
			[]string{"stage"},
		)

		scrapeRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_rate_limit_delays_seconds",
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

// SanitizeSite extracts a lowercase hostname, or "unknown" for invalid URLs.
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

// ObserveRun counts a finished run by status.
func ObserveRun(status string) {
	if scrapeRunsTotal == nil {
		return
	}
	scrapeRunsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records the latency and size of a page fetch.
func ObserveFetch(site string, duration time.Duration, bytesFetched int) {
	if scrapeFetchDurationSeconds == nil {
		return
	}
	sanitized := SanitizeSite(site)
	scrapeFetchDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
	if bytesFetched > 0 {
		scrapeBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRecords adds the number of records extracted from site.
func ObserveRecords(site string, count int) {
	if scrapeRecordsTotal == nil || count <= 0 {
		return
	}
	scrapeRecordsTotal.WithLabelValues(SanitizeSite(site)).Add(float64(count))
}

// ObservePersistFailure counts a failed persistence call.
func ObservePersistFailure(stage string) {
	if scrapePersistFailuresTotal == nil {
		return
	}
	scrapePersistFailuresTotal.WithLabelValues(stage).Inc()
}

// IncActiveRuns increments the in-flight run gauge.
func IncActiveRuns() {
	if scrapeActiveRuns != nil {
		scrapeActiveRuns.Inc()
	}
}

// DecActiveRuns decrements the in-flight run gauge.
func DecActiveRuns() {
	if scrapeActiveRuns != nil {
		scrapeActiveRuns.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if scrapeRateLimitDelaysSeconds == nil {
		return
	}
	scrapeRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
