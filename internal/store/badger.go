package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"mascotas.dev/petwatch/internal/track"
)

// BadgerStore is the embedded key-value VisitStore backend. Visits are
// stored under visit/<entityID>/<recordedAt>/<uuid> keys so a prefix scan
// in reverse yields most-recent-first, and a separate latest pointer key
// serves the cross-entity status query without a full scan.
type BadgerStore struct {
	db *badger.DB
}

const (
	visitPrefix = "visit/"
	latestKey   = "latest"
)

// NewBadgerStore opens (or creates) the Badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("badger store directory cannot be empty")
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}
	return &BadgerStore{db: db}, nil
}

func visitKey(v track.Visit) []byte {
	// Nanosecond timestamps zero-padded to 19 digits keep byte order equal
	// to chronological order.
	return fmt.Appendf(nil, "%s%s/%019d/%s", visitPrefix, v.EntityID, v.RecordedAt.UnixNano(), uuid.NewString())
}

func entityPrefix(entityID string) []byte {
	return fmt.Appendf(nil, "%s%s/", visitPrefix, entityID)
}

// Append stores one visit and updates the latest pointer.
func (s *BadgerStore) Append(_ context.Context, visit track.Visit) error {
	buf, err := msgpack.Marshal(visit)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrUnavailable, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(visitKey(visit), buf); err != nil {
			return err
		}
		return txn.Set([]byte(latestKey), buf)
	})
	if err != nil {
		return fmt.Errorf("%w: append: %w", ErrUnavailable, err)
	}
	return nil
}

// RecentFor returns up to limit visits for the entity, most recent first.
func (s *BadgerStore) RecentFor(_ context.Context, entityID string, limit int) ([]track.Visit, error) {
	prefix := entityPrefix(entityID)
	var visits []track.Visit

	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Reverse = true
		it := txn.NewIterator(itOpts)
		defer it.Close()

		// Seek past the last possible key of the prefix, then walk backwards.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(visits) >= limit {
				break
			}
			var v track.Visit
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			visits = append(visits, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrUnavailable, err)
	}
	return visits, nil
}

// Latest returns the most recent visit across all entities.
func (s *BadgerStore) Latest(_ context.Context) (*track.Visit, error) {
	var visit *track.Visit

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var v track.Visit
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &v)
		}); err != nil {
			return err
		}
		visit = &v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrUnavailable, err)
	}
	return visit, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ VisitStore = (*BadgerStore)(nil)
