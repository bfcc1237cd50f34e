// Package metrics provides Prometheus instrumentation for the bouwdepot
// validation service.
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
			Namespace: "bouwdepot",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bouwdepot",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ValidationsTotal counts completed invoice validations by outcome.
	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bouwdepot",
			Name:      "validations_total",
			Help:      "Total invoice validations by outcome (approved, rejected, tampered).",
		},
		[]string{"outcome"},
	)

	// StageDuration observes per-stage pipeline latency.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bouwdepot",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Validation pipeline stage duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"stage"},
	)

	// StageFailuresTotal counts stage executions that raised an error.
	StageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bouwdepot",
			Name:      "pipeline_stage_failures_total",
			Help:      "Total pipeline stage failures by stage.",
		},
		[]string{"stage"},
	)

	// AnomaliesTotal counts vendor anomalies by type.
	AnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bouwdepot",
			Name:      "vendor_anomalies_total",
			Help:      "Total vendor anomalies detected by type.",
		},
		[]string{"type"},
	)

	// OracleRequestsTotal counts decision-oracle calls by result.
	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bouwdepot",
			Name:      "oracle_requests_total",
			Help:      "Total decision oracle requests by result (ok, error, degraded).",
		},
		[]string{"result"},
	)

	// VendorProfilesCreatedTotal counts new vendor profiles.
	VendorProfilesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bouwdepot",
		Name:      "vendor_profiles_created_total",
		Help:      "Total vendor profiles created on first invoice.",
	})

	// FraudScore observes the final fraud risk score distribution.
	FraudScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bouwdepot",
		Name:      "fraud_score",
		Help:      "Distribution of final fraud risk scores (0-100).",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bouwdepot",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// VendorProfileCount tracks the number of known vendor profiles.
	VendorProfileCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bouwdepot",
		Name:      "vendor_profiles",
		Help:      "Number of vendor profiles in the store.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bouwdepot", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bouwdepot", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bouwdepot", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bouwdepot", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ValidationsTotal,
		StageDuration,
		StageFailuresTotal,
		AnomaliesTotal,
		OracleRequestsTotal,
		VendorProfilesCreatedTotal,
		FraudScore,
		ActiveWebSocketClients,
		VendorProfileCount,
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

// Middleware returns gin middleware that records request counts and latency.
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
