package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mascotas.dev/petwatch/internal/track"
)

// SQLiteStore is the single-file VisitStore backend.
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens (or creates) the visit database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store path cannot be empty")
	}

	// WAL keeps reads cheap while the scheduler writes.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}

	// SQLite works best with a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{conn: conn}
	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: initialize: %w", ErrUnavailable, err)
	}

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS visits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		inside_geofence BOOLEAN NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visits_entity_id ON visits(entity_id);
	CREATE INDEX IF NOT EXISTS idx_visits_recorded_at ON visits(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_visits_entity_recorded ON visits(entity_id, recorded_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Append inserts one visit row.
func (s *SQLiteStore) Append(ctx context.Context, visit track.Visit) error {
	query := `
		INSERT INTO visits (entity_id, latitude, longitude, timestamp, inside_geofence, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		visit.EntityID, visit.Lat, visit.Lng, visit.Timestamp, visit.InsideGeofence, visit.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: append: %w", ErrUnavailable, err)
	}
	return nil
}

// RecentFor returns up to limit visits for the entity, most recent first.
func (s *SQLiteStore) RecentFor(ctx context.Context, entityID string, limit int) ([]track.Visit, error) {
	query := `
		SELECT entity_id, latitude, longitude, timestamp, inside_geofence, recorded_at
		FROM visits
		WHERE entity_id = ?
		ORDER BY recorded_at DESC, id DESC
	`
	args := []any{entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var visits []track.Visit
	for rows.Next() {
		var v track.Visit
		if err := rows.Scan(&v.EntityID, &v.Lat, &v.Lng, &v.Timestamp, &v.InsideGeofence, &v.RecordedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrUnavailable, err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrUnavailable, err)
	}
	return visits, nil
}

// Latest returns the most recent visit across all entities.
func (s *SQLiteStore) Latest(ctx context.Context) (*track.Visit, error) {
	query := `
		SELECT entity_id, latitude, longitude, timestamp, inside_geofence, recorded_at
		FROM visits
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	var v track.Visit
	err := s.conn.QueryRowContext(ctx, query).Scan(
		&v.EntityID, &v.Lat, &v.Lng, &v.Timestamp, &v.InsideGeofence, &v.RecordedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrUnavailable, err)
	}
	return &v, nil
}

// Close closes the database file.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

var _ VisitStore = (*SQLiteStore)(nil)
