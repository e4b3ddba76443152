package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"mascotas.dev/petwatch/internal/feed"
	"mascotas.dev/petwatch/internal/track"
)

// maxHoldOff caps the exponential hold-off applied after the failure
// threshold is crossed.
const maxHoldOff = 2 * time.Minute

// Scheduler owns the ingestion loop. It runs at most one tick at a time,
// tracks consecutive feed failures, and publishes a presentation snapshot
// after every completed tick.
type Scheduler struct {
	logger   *slog.Logger
	cfg      *Config
	assigner track.Assigner
	detector track.ChangeDetector

	// st is mutated only inside a tick; ticks are serialized by inFlight.
	st *engineState

	state    atomic.Int32
	inFlight atomic.Bool

	snapMu   sync.RWMutex
	snapshot *Snapshot

	// health is the operator-facing copy of the failure counter and poll
	// timestamps, safe to read while a tick runs.
	healthMu sync.RWMutex
	health   health
}

type health struct {
	lastPolledAt        time.Time
	lastSuccessAt       time.Time
	consecutiveFailures int
}

// NewScheduler validates the configuration and creates a scheduler.
// Invalid configuration (degenerate polygon, negative interval) is the only
// fatal error the engine ever produces.
func NewScheduler(cfg *Config) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TickTimeout == 0 {
		cfg.TickTimeout = cfg.Interval
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}

	if len(cfg.Entities) == 0 {
		cfg.Logger.Warn("no entities registered, readings will be discarded as unassigned")
	}

	s := &Scheduler{
		logger:   cfg.Logger,
		cfg:      cfg,
		assigner: track.Assigner{DisableFallback: cfg.DisableFallback},
		detector: track.ChangeDetector{Epsilon: cfg.Epsilon},
		st:       newEngineState(cfg.Entities),
	}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// Run polls the feed on the configured interval until ctx is canceled.
// The first tick fires immediately. An in-flight tick is allowed to finish
// before Run returns; after that no tick ever starts again.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"entities", len(s.cfg.Entities),
		"epsilon", s.detector.Epsilon,
	)

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full pipeline pass: fetch, normalize, assign, dedup-gate,
// classify, persist, snapshot. It enforces the at-most-one-in-flight rule:
// a call that overlaps a running tick is skipped, never queued. Failures
// are counted and logged, never propagated; the next scheduled tick retries
// naturally.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.State() == StateStopped {
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous tick still running, skipping")
		s.countTick("skipped")
		return
	}
	defer s.inFlight.Store(false)

	if !s.st.holdUntil.IsZero() && time.Now().Before(s.st.holdUntil) {
		s.setState(StateBackoff)
		s.logger.Debug("holding off after repeated failures",
			"until", s.st.holdUntil,
			"consecutive_failures", s.st.consecutiveFailures,
		)
		s.countTick("skipped")
		return
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	s.runTick(tctx)
}

func (s *Scheduler) runTick(ctx context.Context) {
	s.setState(StatePolling)
	s.st.lastPolledAt = time.Now()
	s.publishHealth()

	fetchStart := time.Now()
	records, err := s.cfg.Feed.Fetch(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FeedFetchDuration.Observe(time.Since(fetchStart).Seconds())
	}

	if err != nil {
		s.recordFailure(err)
		return
	}

	s.setState(StateProcessing)

	readings := s.normalizeAll(records)
	buckets := s.assigner.Assign(readings, s.cfg.Entities)

	assigned := 0
	for _, bucket := range buckets {
		assigned += len(bucket)
	}
	if unassigned := len(readings) - assigned; unassigned > 0 {
		s.logger.Debug("discarding unassigned readings", "count", unassigned)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ReadingsDiscarded.WithLabelValues("unassigned").Add(float64(unassigned))
		}
	}

	newVisits := s.processBuckets(ctx, buckets)

	s.recordSuccess()
	s.updateSnapshot(ctx, newVisits)
	s.setState(StateIdle)
}

// normalizeAll converts raw records to readings. A bad record is skipped
// and logged; the rest of the batch is still processed.
func (s *Scheduler) normalizeAll(records []feed.RawRecord) []track.Reading {
	readings := make([]track.Reading, 0, len(records))
	for _, record := range records {
		reading, err := s.cfg.Normalizer.Normalize(record)
		if err != nil {
			reason := "invalid_coordinate"
			if errors.Is(err, feed.ErrMissingTimestamp) {
				reason = "missing_timestamp"
			}
			s.logger.Warn("skipping malformed record", "error", err)
			s.countDiscard(reason)
			continue
		}
		readings = append(readings, reading)
	}
	return readings
}

// processBuckets runs the dedup gate, geofence classification, and store
// append for every assigned reading, in registry order so visit output is
// deterministic. lastPosition advances only after a successful append, so a
// store failure leaves the reading eligible for the next tick.
func (s *Scheduler) processBuckets(ctx context.Context, buckets map[string][]track.Reading) []track.Visit {
	var newVisits []track.Visit

	for _, entity := range s.cfg.Entities {
		est := s.st.entities[entity.ID]

		for _, reading := range buckets[entity.ID] {
			candidate := track.Position{Lat: reading.Lat, Lng: reading.Lng}

			if !s.detector.HasChanged(est.lastPosition, candidate) {
				s.countDiscard("unchanged")
				continue
			}

			inside := s.cfg.Boundary.Contains(reading.Lat, reading.Lng)
			visit := track.Visit{
				EntityID:       entity.ID,
				Lat:            reading.Lat,
				Lng:            reading.Lng,
				Timestamp:      reading.Timestamp,
				InsideGeofence: inside,
				RecordedAt:     time.Now().UTC(),
			}

			if err := s.cfg.Store.Append(ctx, visit); err != nil {
				// The classified reading is dropped for this tick; the
				// store retries on the next scheduled poll.
				s.logger.Error("failed to persist visit",
					"entity_id", entity.ID,
					"lat", visit.Lat,
					"lng", visit.Lng,
					"error", err,
				)
				if s.cfg.Metrics != nil {
					s.cfg.Metrics.StoreFailures.Inc()
				}
				continue
			}

			r := reading
			est.lastPosition = &track.Position{Lat: reading.Lat, Lng: reading.Lng}
			est.lastReading = &r
			est.inside = inside
			newVisits = append(newVisits, visit)

			if s.cfg.Metrics != nil {
				s.cfg.Metrics.VisitsAppended.WithLabelValues(entity.ID).Inc()
			}
			s.logger.Info("visit recorded",
				"entity_id", entity.ID,
				"lat", visit.Lat,
				"lng", visit.Lng,
				"inside", inside,
			)
		}
	}

	return newVisits
}

func (s *Scheduler) recordFailure(err error) {
	s.st.consecutiveFailures++

	outcome := "feed_error"
	if errors.Is(err, feed.ErrMalformedPayload) {
		outcome = "malformed_payload"
		s.logger.Error("malformed feed payload, tick aborted",
			"error", err,
			"consecutive_failures", s.st.consecutiveFailures,
		)
	} else {
		s.logger.Warn("feed fetch failed",
			"error", err,
			"consecutive_failures", s.st.consecutiveFailures,
		)
	}
	s.countTick(outcome)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConsecutiveFailures.Set(float64(s.st.consecutiveFailures))
	}

	if s.st.consecutiveFailures >= s.cfg.FailureThreshold {
		holdOff := holdOffFor(s.cfg.Interval, s.st.consecutiveFailures, s.cfg.FailureThreshold)
		s.st.holdUntil = time.Now().Add(holdOff)
		s.setState(StateBackoff)
		s.logger.Warn("failure threshold reached, backing off", "hold_off", holdOff)
		s.publishHealth()
		return
	}

	s.publishHealth()
	s.setState(StateIdle)
}

// holdOffFor doubles the poll interval for each failure past the threshold,
// capped at maxHoldOff. Doubling stops at the cap, so a long outage never
// overflows the duration back into an immediate retry.
func holdOffFor(interval time.Duration, failures, threshold int) time.Duration {
	holdOff := interval
	for i := threshold; i < failures && holdOff < maxHoldOff; i++ {
		holdOff *= 2
	}
	if holdOff > maxHoldOff {
		holdOff = maxHoldOff
	}
	return holdOff
}

// publishHealth copies the scheduler-owned counters into the shared health
// view read by Status.
func (s *Scheduler) publishHealth() {
	s.healthMu.Lock()
	s.health = health{
		lastPolledAt:        s.st.lastPolledAt,
		lastSuccessAt:       s.st.lastSuccessAt,
		consecutiveFailures: s.st.consecutiveFailures,
	}
	s.healthMu.Unlock()
}

func (s *Scheduler) recordSuccess() {
	s.st.consecutiveFailures = 0
	s.st.holdUntil = time.Time{}
	s.st.lastSuccessAt = time.Now()
	s.publishHealth()

	s.countTick("success")
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConsecutiveFailures.Set(0)
		s.cfg.Metrics.LastSuccessfulPoll.Set(float64(s.st.lastSuccessAt.Unix()))
	}
}

func (s *Scheduler) countTick(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TicksTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) countDiscard(reason string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ReadingsDiscarded.WithLabelValues(reason).Inc()
	}
}

// updateSnapshot freezes the per-tick presentation view and hands it to the
// publisher. The read side only ever sees these copies, never engine state.
func (s *Scheduler) updateSnapshot(ctx context.Context, newVisits []track.Visit) {
	snap := &Snapshot{
		TickAt:    time.Now().UTC(),
		Entities:  make([]track.EntitySnapshot, 0, len(s.cfg.Entities)),
		NewVisits: newVisits,
	}
	for _, entity := range s.cfg.Entities {
		est := s.st.entities[entity.ID]
		snap.Entities = append(snap.Entities, track.EntitySnapshot{
			EntityID:       entity.ID,
			Label:          entity.Label,
			LastReading:    est.lastReading,
			InsideGeofence: est.inside,
		})
	}

	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()

	if s.cfg.Publisher == nil {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		return
	}
	if err := s.cfg.Publisher.Publish(ctx, payload); err != nil {
		s.logger.Error("failed to publish snapshot", "error", err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.SnapshotFailures.Inc()
		}
	}
}

// Snapshot returns the presentation view from the most recent completed
// tick, or nil before the first one.
func (s *Scheduler) Snapshot() *Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// Status reports operator-facing scheduler health.
func (s *Scheduler) Status() Status {
	s.snapMu.RLock()
	snap := s.snapshot
	s.snapMu.RUnlock()

	st := Status{
		State: s.State().String(),
	}
	if snap != nil {
		st.LastTickAt = snap.TickAt
		st.Entities = snap.Entities
	}

	s.healthMu.RLock()
	st.LastPolledAt = s.health.lastPolledAt
	st.LastSuccessAt = s.health.lastSuccessAt
	st.ConsecutiveFailures = s.health.consecutiveFailures
	s.healthMu.RUnlock()
	return st
}
