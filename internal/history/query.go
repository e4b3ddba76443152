// Package history is the read side of the visit store: ordered retrieval
// and filtering of an entity's visit history for presentation. It never
// mutates the store and never touches engine internals.
package history

import (
	"context"
	"errors"
	"time"

	"mascotas.dev/petwatch/internal/store"
	"mascotas.dev/petwatch/internal/track"
)

// DefaultLimit bounds history reads when the caller does not specify one.
const DefaultLimit = 200

// Query reads visit history from a VisitStore.
type Query struct {
	store store.VisitStore
}

// New creates a Query over the given store.
func New(s store.VisitStore) (*Query, error) {
	if s == nil {
		return nil, errors.New("visit store cannot be nil")
	}
	return &Query{store: s}, nil
}

// ForEntity returns the entity's visits in reverse-chronological order.
// When day is non-nil the result is restricted to visits whose RecordedAt
// falls on that calendar day in the day's own location. A limit of zero
// falls back to DefaultLimit.
func (q *Query) ForEntity(ctx context.Context, entityID string, day *time.Time, limit int) ([]track.Visit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	fetch := limit
	if day != nil {
		// Day filtering happens here, so over-fetch to fill the limit after
		// visits from other days are dropped.
		fetch = 0
	}

	visits, err := q.store.RecentFor(ctx, entityID, fetch)
	if err != nil {
		return nil, err
	}

	if day == nil {
		return visits, nil
	}

	loc := day.Location()
	wantY, wantM, wantD := day.Date()

	filtered := make([]track.Visit, 0, limit)
	for _, v := range visits {
		y, m, d := v.RecordedAt.In(loc).Date()
		if y == wantY && m == wantM && d == wantD {
			filtered = append(filtered, v)
			if len(filtered) >= limit {
				break
			}
		}
	}
	return filtered, nil
}

// Latest returns the most recent visit across all entities.
func (q *Query) Latest(ctx context.Context) (*track.Visit, error) {
	return q.store.Latest(ctx)
}
