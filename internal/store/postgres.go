package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mascotas.dev/petwatch/internal/track"
)

// PostgresConfig holds the connection settings for the Postgres backend.
type PostgresConfig struct {
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// visitRecord is the GORM model backing the visits table.
type visitRecord struct {
	ID             uint      `gorm:"primaryKey"`
	EntityID       string    `gorm:"index:idx_visits_entity_recorded;not null"`
	Latitude       float64   `gorm:"not null"`
	Longitude      float64   `gorm:"not null"`
	Timestamp      time.Time `gorm:"not null"`
	InsideGeofence bool      `gorm:"not null"`
	RecordedAt     time.Time `gorm:"index:idx_visits_entity_recorded;index:idx_visits_recorded;not null"`
}

// TableName specifies the table name for visitRecord.
func (visitRecord) TableName() string {
	return "visits"
}

// PostgresStore is the PostgreSQL VisitStore backend.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to PostgreSQL and migrates the visits table.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		return nil, errors.New("postgres config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, errors.New("postgres host cannot be empty")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("postgres port must be positive")
	}
	if cfg.User == "" {
		return nil, errors.New("postgres user cannot be empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("postgres database name cannot be empty")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}

	if err := db.AutoMigrate(&visitRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %w", ErrUnavailable, err)
	}

	return &PostgresStore{db: db}, nil
}

// Append inserts one visit row.
func (s *PostgresStore) Append(ctx context.Context, visit track.Visit) error {
	record := &visitRecord{
		EntityID:       visit.EntityID,
		Latitude:       visit.Lat,
		Longitude:      visit.Lng,
		Timestamp:      visit.Timestamp,
		InsideGeofence: visit.InsideGeofence,
		RecordedAt:     visit.RecordedAt,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("%w: append: %w", ErrUnavailable, err)
	}
	return nil
}

// RecentFor returns up to limit visits for the entity, most recent first.
func (s *PostgresStore) RecentFor(ctx context.Context, entityID string, limit int) ([]track.Visit, error) {
	query := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("recorded_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []visitRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrUnavailable, err)
	}

	visits := make([]track.Visit, len(records))
	for i, r := range records {
		visits[i] = r.toVisit()
	}
	return visits, nil
}

// Latest returns the most recent visit across all entities.
func (s *PostgresStore) Latest(ctx context.Context) (*track.Visit, error) {
	var record visitRecord
	err := s.db.WithContext(ctx).
		Order("recorded_at DESC, id DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest: %w", ErrUnavailable, err)
	}
	v := record.toVisit()
	return &v, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r visitRecord) toVisit() track.Visit {
	return track.Visit{
		EntityID:       r.EntityID,
		Lat:            r.Latitude,
		Lng:            r.Longitude,
		Timestamp:      r.Timestamp,
		InsideGeofence: r.InsideGeofence,
		RecordedAt:     r.RecordedAt,
	}
}

var _ VisitStore = (*PostgresStore)(nil)
