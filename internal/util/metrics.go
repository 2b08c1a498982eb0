package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncSessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_sessions_started_total",
		Help: "Total number of sync sessions opened",
	}, []string{"platform", "triggered_by"})

	SyncSessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_sessions_finished_total",
		Help: "Total number of sync sessions by terminal status",
	}, []string{"status"})

	SyncSessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_sync_session_duration_seconds",
		Help:    "Wall time of sync sessions",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_items_total",
		Help: "Total number of per-barcode outcomes recorded",
	}, []string{"platform", "status"})

	PlatformBatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stock_sync_batch_latency_seconds",
		Help:    "Latency of one marketplace batch including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})

	PlatformRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_retries_total",
		Help: "Total number of retried marketplace calls",
	}, []string{"platform"})

	PlatformAuthRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_auth_refresh_total",
		Help: "Total number of access token refreshes",
	}, []string{"platform"})

	StockAdjustedNegativeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_sync_adjusted_negative_total",
		Help: "Total number of barcodes whose available stock was clamped to zero",
	})

	AliasChainWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_sync_alias_chain_warnings_total",
		Help: "Total number of alias lookups that hit a chained alias",
	})

	OrphanedSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_sync_orphaned_sessions_total",
		Help: "Total number of sessions failed by the watchdog",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
