package engine

import (
	"time"

	"mascotas.dev/petwatch/internal/track"
)

// State is the scheduler's position in its tick state machine.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProcessing
	StateBackoff
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// entityState is the per-entity slice of engine state: the last accepted
// position for change detection plus what the presentation snapshot shows.
type entityState struct {
	lastPosition *track.Position
	lastReading  *track.Reading
	inside       bool
}

// engineState is owned by the scheduler and mutated only inside a tick.
// The read side never touches it; it sees copies via Snapshot and Status.
type engineState struct {
	entities            map[string]*entityState
	lastPolledAt        time.Time
	lastSuccessAt       time.Time
	consecutiveFailures int
	holdUntil           time.Time
}

func newEngineState(entities []track.Entity) *engineState {
	st := &engineState{
		entities: make(map[string]*entityState, len(entities)),
	}
	for _, e := range entities {
		st.entities[e.ID] = &entityState{}
	}
	return st
}
