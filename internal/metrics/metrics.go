// Package metrics exposes Prometheus collectors for the crawl service.
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
	crawlResultsStoredTotal       *prometheus.CounterVec
	crawlDuplicatesSkippedTotal   *prometheus.CounterVec
	crawlKeywordFailuresTotal     *prometheus.CounterVec
	crawlRateLimitDelaysSeconds   *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	reportCompilationsTotal       *prometheus.CounterVec
	reportDeliveryDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlResultsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_results_stored_total",
				Help: "Total number of result records persisted, labeled by domain.",
			},
			[]string{"domain"},
		)

		crawlDuplicatesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_duplicates_skipped_total",
				Help: "Total number of listings dropped by fingerprint dedup, labeled by domain.",
			},
			[]string{"domain"},
		)

		crawlKeywordFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_keyword_failures_total",
				Help: "Total number of keyword fetches that failed, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
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

		reportCompilationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_compilations_total",
				Help: "Total number of report compilations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		reportDeliveryDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "report_delivery_duration_seconds",
				Help:    "Histogram of SMTP delivery durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// SanitizeDomain sanitizes a URL or host to a lowercase hostname label.
// It returns "unknown" if the input is invalid.
func SanitizeDomain(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResultStored increments the stored-record counter.
func ObserveResultStored(domain string) {
	if crawlResultsStoredTotal == nil {
		return
	}
	crawlResultsStoredTotal.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveDuplicateSkipped increments the dedup-skip counter.
func ObserveDuplicateSkipped(domain string) {
	if crawlDuplicatesSkippedTotal == nil {
		return
	}
	crawlDuplicatesSkippedTotal.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveKeywordFailure increments the keyword failure counter for the reason.
func ObserveKeywordFailure(reason string) {
	if crawlKeywordFailuresTotal == nil {
		return
	}
	crawlKeywordFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if crawlRateLimitDelaysSeconds == nil {
		return
	}
	crawlRateLimitDelaysSeconds.WithLabelValues(SanitizeDomain(domain)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveReportCompilation increments the report compilation counter.
func ObserveReportCompilation(outcome string) {
	if reportCompilationsTotal == nil {
		return
	}
	reportCompilationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReportDelivery records the duration of one SMTP delivery.
func ObserveReportDelivery(duration time.Duration) {
	if reportDeliveryDurationSeconds == nil {
		return
	}
	reportDeliveryDurationSeconds.Observe(duration.Seconds())
}
