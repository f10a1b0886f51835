// Package metrics exposes Prometheus collectors for dataset builds and the HTTP API.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	datasetRowsTotal           *prometheus.CounterVec
	datasetLabelRowsTotal      *prometheus.CounterVec
	datasetBytesTotal          prometheus.Counter
	datasetRunsTotal           *prometheus.CounterVec
	datasetRunDurationSeconds  *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Row counting stages.
const (
	StageFetched  = "fetched"
	StageUnique   = "unique"
	StageBalanced = "balanced"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		datasetRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "climatedata_rows_total",
				Help: "Rows seen by dataset builds, labeled by pipeline stage.",
			},
			[]string{"stage"},
		)

		datasetLabelRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "climatedata_written_rows_total",
				Help: "Rows written to balanced datasets, labeled by climate label.",
			},
			[]string{"label"},
		)

		datasetBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "climatedata_written_bytes_total",
				Help: "Total CSV bytes written to blob storage.",
			},
		)

		datasetRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "climatedata_runs_total",
				Help: "Total number of dataset builds, labeled by status.",
			},
			[]string{"status"},
		)

		datasetRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "climatedata_run_duration_seconds",
				Help:    "Histogram of dataset build durations, labeled by status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
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

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "climatedata_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the upstream request pacer, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRows adds n rows to the counter for stage.
func ObserveRows(stage string, n int) {
	if n > 0 {
		datasetRowsTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveWritten records the label split and size of a written dataset.
func ObserveWritten(related, unrelated, size int) {
	datasetLabelRowsTotal.WithLabelValues("related").Add(float64(related))
	datasetLabelRowsTotal.WithLabelValues("unrelated").Add(float64(unrelated))
	if size > 0 {
		datasetBytesTotal.Add(float64(size))
	}
}

// ObserveRun increments the run counter and duration histogram for status.
func ObserveRun(status string, duration time.Duration) {
	datasetRunsTotal.WithLabelValues(status).Inc()
	datasetRunDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for a token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// Push sends everything in gatherer to a Prometheus Pushgateway under job.
// Command-line builds exit before a scrape could happen, so they push instead.
func Push(ctx context.Context, gatewayURL, job string, gatherer prometheus.Gatherer) error {
	if gatewayURL == "" {
		return nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := push.New(gatewayURL, job).Gatherer(gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
