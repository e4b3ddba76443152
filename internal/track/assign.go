package track

import (
	"sort"
	"strings"
)

// Assigner maps normalized readings to the entities they belong to.
type Assigner struct {
	// DisableFallback turns off the broadcast bootstrap below. Deployments
	// with individually tagged trackers should set this to avoid a stray
	// untagged reading being attributed to every pet.
	DisableFallback bool
}

// Assign buckets readings per entity ID.
//
// A reading matches an entity when its RawEntityKey equals the entity's
// FeedKey or Label, compared case-insensitively. Readings matching no entity
// are unassigned.
//
// Bootstrap fallback: when no entity received any real assignment and at
// least one unassigned reading exists, the most recent unassigned reading is
// broadcast to every entity. Single-shared-tracker deployments report all
// pets through one undifferentiated channel and rely on this. The fallback
// never applies once any entity has at least one real assignment.
//
// Each bucket is sorted ascending by timestamp, ties broken by
// SourceEntryID ascending. Every entity gets a bucket, possibly empty.
func (a Assigner) Assign(readings []Reading, entities []Entity) map[string][]Reading {
	buckets := make(map[string][]Reading, len(entities))
	for _, e := range entities {
		buckets[e.ID] = nil
	}

	var unassigned []Reading
	anyAssigned := false

	for _, r := range readings {
		matched := false
		for _, e := range entities {
			if matchesEntity(r.RawEntityKey, e) {
				buckets[e.ID] = append(buckets[e.ID], r)
				matched = true
				anyAssigned = true
			}
		}
		if !matched {
			unassigned = append(unassigned, r)
		}
	}

	if !anyAssigned && len(unassigned) > 0 && !a.DisableFallback {
		latest := mostRecent(unassigned)
		for _, e := range entities {
			buckets[e.ID] = append(buckets[e.ID], latest)
		}
	}

	for id := range buckets {
		sortReadings(buckets[id])
	}

	return buckets
}

func matchesEntity(rawKey string, e Entity) bool {
	if rawKey == "" {
		return false
	}
	if e.FeedKey != "" && strings.EqualFold(rawKey, e.FeedKey) {
		return true
	}
	return strings.EqualFold(rawKey, e.Label)
}

func mostRecent(readings []Reading) Reading {
	latest := readings[0]
	for _, r := range readings[1:] {
		if r.Timestamp.After(latest.Timestamp) ||
			(r.Timestamp.Equal(latest.Timestamp) && r.SourceEntryID > latest.SourceEntryID) {
			latest = r
		}
	}
	return latest
}

func sortReadings(readings []Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		if readings[i].Timestamp.Equal(readings[j].Timestamp) {
			return readings[i].SourceEntryID < readings[j].SourceEntryID
		}
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
}
