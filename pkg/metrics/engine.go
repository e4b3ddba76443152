package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for the ingestion engine.
// ConsecutiveFailures and LastSuccessfulPoll are the operator-facing
// observables for feed health; failures never surface as exceptions to
// presentation code.
type EngineMetrics struct {
	TicksTotal          *prometheus.CounterVec
	FeedFetchDuration   prometheus.Histogram
	VisitsAppended      *prometheus.CounterVec
	ReadingsDiscarded   *prometheus.CounterVec
	ConsecutiveFailures prometheus.Gauge
	LastSuccessfulPoll  prometheus.Gauge
	SnapshotFailures    prometheus.Counter
	StoreFailures       prometheus.Counter
}

// NewEngineMetrics creates and registers engine metrics.
func NewEngineMetrics(namespace string) *EngineMetrics {
	m := &EngineMetrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "ticks_total",
				Help:      "Total number of ingestion ticks by outcome",
			},
			[]string{"outcome"}, // outcome: success, feed_error, malformed_payload, skipped
		),
		FeedFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "feed_fetch_duration_seconds",
				Help:      "Duration of telemetry feed fetches",
				Buckets:   prometheus.DefBuckets,
			},
		),
		VisitsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "visits_appended_total",
				Help:      "Total number of visits written to the store",
			},
			[]string{"entity_id"},
		),
		ReadingsDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "readings_discarded_total",
				Help:      "Total number of readings dropped before persistence",
			},
			[]string{"reason"}, // reason: invalid_coordinate, missing_timestamp, unchanged, unassigned
		),
		ConsecutiveFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "consecutive_failures",
				Help:      "Number of consecutive failed polls",
			},
		),
		LastSuccessfulPoll: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "last_successful_poll_timestamp_seconds",
				Help:      "Unix timestamp of the last successful feed poll",
			},
		),
		SnapshotFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "snapshot_publish_failures_total",
				Help:      "Total number of failed presentation-feed publishes",
			},
		),
		StoreFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "store_failures_total",
				Help:      "Total number of failed visit store writes",
			},
		),
	}

	MustRegister(
		m.TicksTotal,
		m.FeedFetchDuration,
		m.VisitsAppended,
		m.ReadingsDiscarded,
		m.ConsecutiveFailures,
		m.LastSuccessfulPoll,
		m.SnapshotFailures,
		m.StoreFailures,
	)

	return m
}
