package planner

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidfriends/mutualsync/internal/metrics"
)

const subsystem = "planner"

var (
	batchesDispatched = metrics.NewCounter(
		"batches_dispatched",
		subsystem,
		"Total membership batches sent to the remote graph",
		[]string{},
	).WithLabelValues()

	batchOutcomes = metrics.NewCounter(
		"batch_outcomes",
		subsystem,
		"Completed membership batches by outcome",
		[]string{"outcome"},
	)

	batchLatency = metrics.NewHistogramWithBuckets(
		"batch_latency_seconds",
		subsystem,
		"Round trip time of membership batch requests",
		[]string{},
		prometheus.ExponentialBuckets(0.05, 2, 10),
	).WithLabelValues()
)
