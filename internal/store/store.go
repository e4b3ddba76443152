// Package store provides visit-history persistence behind a single
// VisitStore contract with interchangeable backends: in-memory, single-file
// SQLite, PostgreSQL, and an embedded Badger key-value store. The engine
// never branches on the backend; a concrete store is selected by
// configuration at startup.
package store

import (
	"context"
	"errors"
	"fmt"

	"mascotas.dev/petwatch/internal/track"
)

// ErrUnavailable wraps backend failures. Store unavailability is reported to
// the caller, never allowed to crash the ingestion loop; the next scheduled
// tick retries naturally.
var ErrUnavailable = errors.New("visit store unavailable")

// VisitStore is the persistence contract consumed by the engine and the
// read side. Implementations assume a single writer (the scheduler
// serializes ticks) and need not order writes across concurrent writers.
type VisitStore interface {
	// Append persists one visit. Called at most once per accepted reading.
	Append(ctx context.Context, visit track.Visit) error

	// RecentFor returns up to limit visits for the entity, most recent
	// first by RecordedAt.
	RecentFor(ctx context.Context, entityID string, limit int) ([]track.Visit, error)

	// Latest returns the most recent visit across all entities, or nil
	// when no visit has been recorded yet.
	Latest(ctx context.Context) (*track.Visit, error)

	// Close releases backend resources.
	Close() error
}

// Backend names a concrete VisitStore implementation in configuration.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendBadger   Backend = "badger"
)

// Options carries the union of backend settings; each backend reads only
// its own fields.
type Options struct {
	// Path is the database file (sqlite) or directory (badger).
	Path string

	// Postgres connection settings.
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Open creates the VisitStore named by backend.
func Open(backend Backend, opts Options) (VisitStore, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(opts.Path)
	case BackendPostgres:
		return NewPostgresStore(&PostgresConfig{
			Host:     opts.Host,
			Port:     opts.Port,
			User:     opts.User,
			Password: opts.Password,
			DBName:   opts.DBName,
			SSLMode:  opts.SSLMode,
		})
	case BackendBadger:
		return NewBadgerStore(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
