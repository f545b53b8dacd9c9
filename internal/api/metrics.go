package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	veritasEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_entries_total",
		Help: "Total ledger entries appended, by severity.",
	}, []string{"severity"})

	veritasCheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veritas_checkpoints_total",
		Help: "Total checkpoints sealed.",
	})

	veritasIntegrityFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_integrity_failures_total",
		Help: "Total integrity failures detected during verification, by kind.",
	}, []string{"kind"})

	veritasRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	veritasRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veritas_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	veritasHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_health_checks_total",
		Help: "Total health check probes by result.",
	}, []string{"result"})

	veritasAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veritas_alert_deliveries_total",
		Help: "Total tamper alert deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		veritasRequestsTotal.WithLabelValues(method, path, status).Inc()
		veritasRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEntryAppend records a ledger entry append by severity.
func RecordEntryAppend(severity string) {
	veritasEntriesTotal.WithLabelValues(severity).Inc()
}

// RecordCheckpointBuild records a sealed checkpoint.
func RecordCheckpointBuild() {
	veritasCheckpointsTotal.Inc()
}

// RecordIntegrityFailure records a detected integrity failure. kind is
// "entry" for a broken chain link or "checkpoint" for a seal mismatch.
func RecordIntegrityFailure(kind string) {
	veritasIntegrityFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(success bool) {
	if success {
		veritasHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		veritasHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordAlertDelivery records a tamper alert delivery attempt.
func RecordAlertDelivery(success bool) {
	if success {
		veritasAlertDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		veritasAlertDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
