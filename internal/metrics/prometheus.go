// Package metrics provides Prometheus metrics for directory sync runs
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync run metrics
var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ldapsync",
			Name:      "runs_total",
			Help:      "Total number of directory sync runs",
		},
		[]string{"operation", "outcome"}, // outcome: success, error, cancelled, certificate
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ldapsync",
			Name:      "run_duration_seconds",
			Help:      "Directory sync run duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"operation"},
	)

	changesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ldapsync",
			Name:      "changes_total",
			Help:      "Total number of identity changes applied or planned",
		},
		[]string{"type"},
	)

	progressPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ldapsync",
			Name:      "progress_percent",
			Help:      "Progress of the current run per tenant",
		},
		[]string{"tenant"},
	)
)

// Ops HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ldapsync",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ldapsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path"},
	)
)

// RecordRun records a finished run with its outcome and duration
func RecordRun(operation, outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(operation, outcome).Inc()
	runDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordChange counts one identity change of the given type
func RecordChange(changeType string) {
	changesTotal.WithLabelValues(changeType).Inc()
}

// SetProgress publishes the current progress of a tenant's run
func SetProgress(tenantID int, percent int) {
	progressPercent.WithLabelValues(strconv.Itoa(tenantID)).Set(float64(percent))
}

// Middleware returns a Gin middleware that records HTTP metrics
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		if path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
