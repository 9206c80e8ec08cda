// Package metrics provides Prometheus metrics for the provisioning service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "passwd_sso",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "passwd_sso",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "passwd_sso",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Provisioning metrics
var (
	provisioningOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "passwd_sso",
			Name:      "scim_operations_total",
			Help:      "Total number of SCIM provisioning operations",
		},
		[]string{"resource", "operation", "outcome"},
	)

	reconcileWrites = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "passwd_sso",
			Name:      "scim_reconcile_writes",
			Help:      "Membership rows written per reconciliation",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"mode"},
	)
)

// Middleware records HTTP metrics for every request. serviceName becomes the
// "service" label.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// The metrics endpoint would observe itself.
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(duration)
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler serves the Prometheus scrape endpoint. Register on "/metrics".
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordProvisioningOp records one SCIM operation outcome.
func RecordProvisioningOp(resource, operation, outcome string) {
	provisioningOpsTotal.WithLabelValues(resource, operation, outcome).Inc()
}

// RecordReconcileWrites records how many rows a reconciliation touched.
func RecordReconcileWrites(mode string, writes int) {
	reconcileWrites.WithLabelValues(mode).Observe(float64(writes))
}
