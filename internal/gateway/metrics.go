package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	listingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidledger_listings_total",
		Help: "Total listings created through the gateway.",
	})

	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidledger_purchases_total",
		Help: "Total purchase attempts by result code.",
	}, []string{"result"})

	redactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidledger_locator_redactions_total",
		Help: "Total listing views served with the locator redacted.",
	})

	accessCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidledger_access_cache_total",
		Help: "Access cache lookups by result.",
	}, []string{"result"})

	eventDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidledger_event_deliveries_total",
		Help: "Event deliveries by sink and success status.",
	}, []string{"sink", "status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordListing records a created listing.
func RecordListing() {
	listingsTotal.Inc()
}

// RecordPurchase records a purchase attempt by ledger result code.
func RecordPurchase(code string) {
	purchasesTotal.WithLabelValues(code).Inc()
}

// RecordRedaction records a listing view served without its locator.
func RecordRedaction() {
	redactionsTotal.Inc()
}

// RecordAccessCache records an access cache lookup.
// Its signature matches accesscache.MetricsRecorder.
func RecordAccessCache(result string) {
	accessCacheTotal.WithLabelValues(result).Inc()
}

// RecordEventDelivery records one delivery attempt to an event sink.
// Its signature matches notify.MetricsRecorder.
func RecordEventDelivery(sink string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	eventDeliveriesTotal.WithLabelValues(sink, status).Inc()
}
