// Package metrics provides Prometheus instrumentation for FraudWatch.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts scored transactions by label.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "decisions_total",
			Help:      "Total scored transactions by decision label.",
		},
		[]string{"decision"},
	)

	// RuleFlagsTotal counts triggered rules by flag key.
	RuleFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "rule_flags_total",
			Help:      "Total rule triggers by rule.",
		},
		[]string{"rule"},
	)

	// ScoreDuration observes end-to-end scoring latency.
	ScoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudwatch",
		Name:      "score_duration_seconds",
		Help:      "Time to score and persist one transaction in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// FinalRisk observes the distribution of blended risk scores.
	FinalRisk = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudwatch",
		Name:      "final_risk",
		Help:      "Distribution of blended risk scores.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})

	// ConfigReloadsTotal counts rule document reloads by result.
	ConfigReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "config_reloads_total",
			Help:      "Total rule configuration reloads by result.",
		},
		[]string{"result"}, // "success", "failure"
	)

	// ConfigVersion is the version of the published rule snapshot.
	ConfigVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudwatch",
		Name:      "config_version",
		Help:      "Version of the rule snapshot currently in force.",
	})

	// AdvisorRunsTotal counts advisor runs by result.
	AdvisorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "advisor_runs_total",
			Help:      "Total advisor runs by result.",
		},
		[]string{"result"}, // "success", "fetch_failed", "reason_failed", "parse_failed", "append_failed"
	)

	// AdvisorDuration observes reasoning-service round trips.
	AdvisorDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraudwatch",
		Name:      "advisor_duration_seconds",
		Help:      "Reasoning service call latency in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	// SuggestionsTotal counts suggestions by lifecycle event.
	SuggestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "suggestions_total",
			Help:      "Total suggestions by event.",
		},
		[]string{"event"}, // "proposed", "approved", "rejected", "applied", "skipped"
	)

	// CacheLookupsTotal counts tiered cache reads by tier and result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "cache_lookups_total",
			Help:      "Total cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	// BusMessagesTotal counts event bus traffic by topic and result.
	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudwatch",
			Name:      "bus_messages_total",
			Help:      "Total event bus messages by topic and result.",
		},
		[]string{"topic", "result"}, // "published", "dropped", "handler_error"
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudwatch", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudwatch", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		RuleFlagsTotal,
		ScoreDuration,
		FinalRisk,
		ConfigReloadsTotal,
		ConfigVersion,
		AdvisorRunsTotal,
		AdvisorDuration,
		SuggestionsTotal,
		CacheLookupsTotal,
		BusMessagesTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
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
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusBucket groups HTTP status codes into 2xx, 3xx, 4xx and 5xx.
func StatusBucket(code int) string {
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
