// Package metrics provides Prometheus instrumentation for the risk core.
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
			Namespace: "riskcore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SignalsEmittedTotal counts stored fraud signals by signal type.
	SignalsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "signals_emitted_total",
			Help:      "Total fraud signals stored, by signal type.",
		},
		[]string{"type"},
	)

	// SignalsDroppedTotal counts signals discarded before storage.
	SignalsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "signals_dropped_total",
			Help:      "Total fraud signals dropped, by reason (invalid, queue_full, insert_error).",
		},
		[]string{"reason"},
	)

	// DetectorFiredTotal counts detector hits by signal type.
	DetectorFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "detector_fired_total",
			Help:      "Total detector hits that emitted a signal, by signal type.",
		},
		[]string{"type"},
	)

	// DetectorErrorsTotal counts swallowed detector failures by detector.
	DetectorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "detector_errors_total",
			Help:      "Total detector check failures (logged and swallowed), by detector.",
		},
		[]string{"detector"},
	)

	// ScoreRecomputesTotal counts risk score recomputations.
	ScoreRecomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskcore",
		Name:      "score_recomputes_total",
		Help:      "Total user risk score recomputations.",
	})

	// RegionalAssessmentsTotal counts regional assessments by resulting level.
	RegionalAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "regional_assessments_total",
			Help:      "Total regional risk assessments, by resulting level.",
		},
		[]string{"level"},
	)

	// EnforcementActionsTotal counts enforcement actions by kind.
	EnforcementActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "enforcement_actions_total",
			Help:      "Total enforcement actions (freeze, reserve, review_flag, freeze_release, reserve_release).",
		},
		[]string{"action"},
	)

	// SweepDuration observes scheduler job run time by job.
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "sweep_duration_seconds",
			Help:      "Scheduler sweep duration in seconds, by job.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SignalsEmittedTotal,
		SignalsDroppedTotal,
		DetectorFiredTotal,
		DetectorErrorsTotal,
		ScoreRecomputesTotal,
		RegionalAssessmentsTotal,
		EnforcementActionsTotal,
		SweepDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
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
