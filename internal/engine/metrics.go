package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidfriends/mutualsync/internal/metrics"
)

const subsystem = "engine"

var (
	syncOutcomes = metrics.NewCounter(
		"syncs",
		subsystem,
		"Full sync runs by outcome",
		[]string{"outcome"},
	)

	syncDuration = metrics.NewHistogramWithBuckets(
		"sync_duration_seconds",
		subsystem,
		"Wall time of full sync runs",
		[]string{"outcome"},
		prometheus.ExponentialBuckets(0.5, 2, 12),
	)

	incrementalOps = metrics.NewCounter(
		"incremental_ops",
		subsystem,
		"Incremental add/remove operations by outcome",
		[]string{"op", "outcome"},
	)

	stateGauge = metrics.NewGauge(
		"state",
		subsystem,
		"Current sync state per coordinator (0 idle, 1 loading friends, 2 computing mutual, 3 finished)",
		[]string{"coordinator"},
	)
)

func observeIncremental(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	incrementalOps.WithLabelValues(op, outcome).Inc()
}
