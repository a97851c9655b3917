package console

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/detectionlab/data/internal/inflight"
	"github.com/detectionlab/data/pkg/client"
)

var (
	consoleRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "data_console_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	consoleRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "data_console_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	apiCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "data_api_calls_total",
		Help: "Calls made to the D.A.T.A. API by operation and outcome.",
	}, []string{"op", "result"})

	apiHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "data_api_health_checks_total",
		Help: "Total API health probes by target and result.",
	}, []string{"target", "result"})

	apiUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "data_api_up",
		Help: "1 when the API target answered its last probes, 0 when degraded.",
	}, []string{"target"})
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
			path = "unmatched"
		}

		consoleRequestsTotal.WithLabelValues(method, path, status).Inc()
		consoleRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records an API probe result.
func RecordHealthCheck(target string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	apiHealthChecksTotal.WithLabelValues(target, result).Inc()
}

// SetAPIUp sets the availability gauge for target.
func SetAPIUp(target string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	apiUp.WithLabelValues(target).Set(v)
}

func recordAPICall(op string, err error) {
	apiCallsTotal.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	var (
		tErr *client.TransportError
		vErr *client.ServerValidationError
		sErr *client.ServerError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inflight.ErrInFlight):
		return "in_flight"
	case errors.As(err, &tErr):
		return "transport"
	case errors.As(err, &vErr):
		return "rejected"
	case errors.As(err, &sErr):
		return "server_error"
	case errors.Is(err, client.ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}
