package umasync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLastProcessedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "observatory_sync_last_processed_block",
		Help: "Highest block fully ingested per instance.",
	}, []string{"instance"})

	metricSafeBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "observatory_sync_safe_block",
		Help: "Confirmation-lagged chain head per instance.",
	}, []string{"instance"})

	metricWindowSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "observatory_sync_window_blocks",
		Help: "Current adaptive block window per instance.",
	}, []string{"instance"})

	metricLogsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observatory_sync_logs_ingested_total",
		Help: "Decoded oracle logs ingested per instance.",
	}, []string{"instance"})

	metricRangesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observatory_sync_ranges_total",
		Help: "Block ranges scanned per instance and outcome.",
	}, []string{"instance", "outcome"})

	metricSyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observatory_sync_runs_total",
		Help: "Whole sync invocations per instance and outcome.",
	}, []string{"instance", "outcome"})

	metricSyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "observatory_sync_duration_seconds",
		Help:    "Wall time of one sync invocation.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"instance"})
)
