// Package metrics provides Prometheus instrumentation for the offers engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offers",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "offers",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OffersCreatedTotal counts offers created by their initial resolution.
	// outcome is one of: pending, auto_accepted, auto_declined.
	OffersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offers",
			Name:      "created_total",
			Help:      "Total offers created by initial outcome.",
		},
		[]string{"outcome"},
	)

	// OffersResolvedTotal counts terminal transitions by final status.
	OffersResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offers",
			Name:      "resolved_total",
			Help:      "Total offers reaching a terminal status.",
		},
		[]string{"status"},
	)

	// OffersCounteredTotal counts counter-offer rounds.
	OffersCounteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offers",
		Name:      "countered_total",
		Help:      "Total counter-offers placed (both seller and buyer rounds).",
	})

	// AcceptConflictsTotal counts accepts that lost the race for a listing.
	AcceptConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offers",
		Name:      "accept_conflicts_total",
		Help:      "Total accept attempts rejected because the listing was already sold.",
	})

	// OfferAmountRatio observes offer amount as a fraction of asking price.
	OfferAmountRatio = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "offers",
		Name:      "amount_to_price_ratio",
		Help:      "Offer amount divided by listing price at creation.",
		Buckets:   []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	})

	// TimeToResolutionSeconds observes how long offers live before a terminal status.
	TimeToResolutionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "offers",
		Name:      "time_to_resolution_seconds",
		Help:      "Time from offer creation to terminal status in seconds.",
		Buckets:   []float64{1, 10, 60, 600, 3600, 21600, 86400, 172800},
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offers",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "offers",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offers", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offers", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offers", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offers", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OffersCreatedTotal,
		OffersResolvedTotal,
		OffersCounteredTotal,
		AcceptConflictsTotal,
		OfferAmountRatio,
		TimeToResolutionSeconds,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
