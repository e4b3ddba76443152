// Package engine drives the ingestion pipeline: poll the telemetry feed,
// normalize and assign readings, gate them through change detection,
// classify against the campus boundary, and persist visits. One scheduler
// instance owns the loop; all pipeline state is private to it.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mascotas.dev/petwatch/internal/feed"
	"mascotas.dev/petwatch/internal/geo"
	"mascotas.dev/petwatch/internal/store"
	"mascotas.dev/petwatch/internal/track"
	"mascotas.dev/petwatch/pkg/metrics"
	"mascotas.dev/petwatch/pkg/mq"
)

// ErrConfiguration marks an invalid engine configuration. Configuration
// problems are fatal at construction time and never at runtime.
var ErrConfiguration = errors.New("engine configuration error")

// DefaultInterval is the poll interval used when none is configured,
// matching the observed tracker deployments.
const DefaultInterval = 15 * time.Second

// DefaultFailureThreshold is the number of consecutive failed polls after
// which the scheduler starts holding off between attempts.
const DefaultFailureThreshold = 5

// Config holds everything the scheduler needs, supplied once at
// construction.
type Config struct {
	Logger *slog.Logger

	// Feed is the telemetry source polled each tick.
	Feed *feed.Client
	// Normalizer converts raw feed records into readings.
	Normalizer *feed.Normalizer
	// Store persists accepted visits.
	Store store.VisitStore
	// Publisher receives the per-tick presentation snapshot. Optional;
	// nil disables publishing.
	Publisher mq.PublisherInterface
	// Metrics is the optional Prometheus collector.
	Metrics *metrics.EngineMetrics

	// Entities is the read-mostly registry of tracked pets. The engine
	// never mutates it.
	Entities []track.Entity
	// Boundary is the campus geofence polygon.
	Boundary geo.Polygon

	// Interval is the time between polls. Zero means DefaultInterval;
	// negative is a configuration error.
	Interval time.Duration
	// TickTimeout bounds one full pipeline pass. Zero means Interval.
	TickTimeout time.Duration
	// Epsilon is the change-detection threshold in degrees. Zero means
	// track.DefaultEpsilon.
	Epsilon float64
	// FailureThreshold is the consecutive-failure count that triggers
	// exponential hold-off. Zero means DefaultFailureThreshold.
	FailureThreshold int
	// DisableFallback turns off the broadcast assignment bootstrap.
	DisableFallback bool
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrConfiguration)
	}
	if cfg.Logger == nil {
		return fmt.Errorf("%w: logger cannot be nil", ErrConfiguration)
	}
	if cfg.Feed == nil {
		return fmt.Errorf("%w: feed client cannot be nil", ErrConfiguration)
	}
	if cfg.Normalizer == nil {
		return fmt.Errorf("%w: normalizer cannot be nil", ErrConfiguration)
	}
	if cfg.Store == nil {
		return fmt.Errorf("%w: visit store cannot be nil", ErrConfiguration)
	}
	if err := cfg.Boundary.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrConfiguration)
	}
	if cfg.Epsilon < 0 {
		return fmt.Errorf("%w: epsilon cannot be negative", ErrConfiguration)
	}
	return nil
}
