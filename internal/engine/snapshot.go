package engine

import (
	"time"

	"mascotas.dev/petwatch/internal/track"
)

// Snapshot is the presentation feed produced after each completed tick:
// the current view of every tracked entity plus the visits the tick
// appended. It is published to the message queue as JSON and kept for the
// read API. Consumers get copies only.
type Snapshot struct {
	TickAt    time.Time              `json:"tickAt"`
	Entities  []track.EntitySnapshot `json:"entities"`
	NewVisits []track.Visit          `json:"newVisits,omitempty"`
}

// Status is the operator-facing view of scheduler health. Failures show up
// here and in metrics, never as errors surfacing to presentation code.
type Status struct {
	State               string                 `json:"state"`
	LastPolledAt        time.Time              `json:"lastPolledAt"`
	LastSuccessAt       time.Time              `json:"lastSuccessAt"`
	LastTickAt          time.Time              `json:"lastTickAt"`
	ConsecutiveFailures int                    `json:"consecutiveFailures"`
	Entities            []track.EntitySnapshot `json:"entities,omitempty"`
}
