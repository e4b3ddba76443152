// Package track holds the core domain types for pet tracking: registered
// entities, normalized telemetry readings, persisted visits, and the
// assignment and change-detection rules that connect them.
package track

import "time"

// Entity is one tracked pet as supplied by the external registry.
// The engine treats entities as immutable input.
type Entity struct {
	// ID is the stable unique identifier of the pet.
	ID string
	// Label is the display name, also usable for feed matching.
	Label string
	// FeedKey optionally ties raw readings to this entity. When empty the
	// entity only receives readings through the broadcast fallback.
	FeedKey string
}

// Reading is one normalized telemetry sample from the feed.
type Reading struct {
	Lat float64
	Lng float64
	// Altitude is meters above sea level; nil when the feed omits it.
	Altitude *float64
	// Timestamp is feed-reported and not guaranteed monotonic.
	Timestamp time.Time
	// SourceEntryID is the feed-native entry identifier, used to break
	// ordering ties when timestamps collide.
	SourceEntryID int64
	// RawEntityKey is the feed field used to match the reading to an entity.
	RawEntityKey string
}

// Position is a bare coordinate pair used by change detection.
type Position struct {
	Lat float64
	Lng float64
}

// Visit is one persisted, deduplicated, classified history record.
// Visits are created by the engine only and are immutable once written.
type Visit struct {
	EntityID       string    `json:"entityId"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Timestamp      time.Time `json:"timestamp"`
	InsideGeofence bool      `json:"insideGeofence"`
	// RecordedAt is engine-assigned ingestion time, distinct from the
	// feed-reported Timestamp. Visits for an entity are appended in
	// non-decreasing RecordedAt order.
	RecordedAt time.Time `json:"recordedAt"`
}

// EntitySnapshot is the per-entity portion of the presentation feed
// published after each tick.
type EntitySnapshot struct {
	EntityID       string   `json:"entityId"`
	Label          string   `json:"label"`
	LastReading    *Reading `json:"lastReading,omitempty"`
	InsideGeofence bool     `json:"insideGeofence"`
}
