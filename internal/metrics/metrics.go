// Package metrics provides Prometheus instrumentation for the ledger service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbd888/sentinel/internal/state"
)

const namespace = "sentinel"

// Operation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFatal    = "fatal"
	ResultError    = "error" // backend or context failure
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OperationsTotal counts ledger operations by name and result.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total ledger operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// OperationDuration observes time spent inside the writer lock and commit.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, including backend commit.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	// RejectionsTotal counts rejected operations by error code and screening rule.
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected operations by operation, error code, and screening rule.",
		},
		[]string{"op", "code", "rule"},
	)

	// SuspiciousFlagsTotal counts payments whose post-record score was persisted.
	SuspiciousFlagsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "suspicious_flags_total",
		Help:      "Payments that left a suspicious-activity record.",
	})

	// CommitFailuresTotal counts backend commit errors.
	CommitFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_failures_total",
		Help:      "Backend commit failures. The operation was discarded.",
	})

	// RateLimitedTotal counts requests refused by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// --- State gauges ---

	Accounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "accounts",
		Help: "Principals holding a balance entry.",
	})
	FrozenAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "frozen_accounts",
		Help: "Principals currently frozen.",
	})
	BlacklistedAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "blacklisted_addresses",
		Help: "Principals currently blacklisted.",
	})
	EscrowsLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "escrows_locked",
		Help: "Escrows created and not yet released.",
	})
	EscrowValueLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "escrow_value_locked",
		Help: "Sum of amounts held in unreleased escrows.",
	})
	TotalBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "total_balance",
		Help: "Sum of all balances.",
	})

	// --- Database gauges ---

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OperationsTotal,
		OperationDuration,
		RejectionsTotal,
		SuspiciousFlagsTotal,
		CommitFailuresTotal,
		RateLimitedTotal,
		ActiveWebSocketClients,
		Accounts,
		FrozenAccounts,
		BlacklistedAddresses,
		EscrowsLocked,
		EscrowValueLocked,
		TotalBalance,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitDuration,
		GoroutineCount,
	)
}

// ObserveStats copies a state summary into the state gauges.
func ObserveStats(st state.Stats) {
	Accounts.Set(float64(st.Accounts))
	FrozenAccounts.Set(float64(st.Frozen))
	BlacklistedAddresses.Set(float64(st.Blacklisted))
	EscrowsLocked.Set(float64(st.LockedEscrows))
	EscrowValueLocked.Set(float64(st.TotalLocked))
	TotalBalance.Set(float64(st.TotalBalance))
}

// StartStateCollector periodically samples stats into the state gauges.
// Call in a goroutine; exits when ctx is done.
func StartStateCollector(ctx context.Context, stats func() state.Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ObserveStats(stats())
		GoroutineCount.Set(float64(runtime.NumGoroutine()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartDBStatsCollector periodically samples sql.DBStats into Prometheus
// gauges. Call in a goroutine; exits when ctx is done.
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
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
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
