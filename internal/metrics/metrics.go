package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "so2home_sync_passes_total",
			Help: "Sync passes run, by result (complete, idle)",
		},
		[]string{"result"},
	)

	SkippedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "so2home_sync_skipped_ticks_total",
			Help: "Timer ticks ignored because a pass was already running",
		},
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "so2home_sync_pass_duration_seconds",
			Help:    "Duration of a full sync pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	FilesSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "so2home_files_synced_total",
			Help: "Files copied from stations",
		},
		[]string{"station", "kind"},
	)

	StationFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "so2home_station_errors_total",
			Help: "Station faults by type (connection, session, file, parse)",
		},
		[]string{"station", "fault"},
	)

	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "so2home_station_connection_state",
			Help: "Station connection state: 0 disconnected, 1 connected, 2 error",
		},
		[]string{"station"},
	)
)
