package feed

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"mascotas.dev/petwatch/internal/track"
)

var (
	// ErrInvalidCoordinate marks a record whose latitude or longitude is
	// absent, non-numeric, or out of range. The record is skipped.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrMissingTimestamp marks a record with no usable timestamp.
	ErrMissingTimestamp = errors.New("missing timestamp")
)

// FieldMapping names the provider fields holding each reading attribute.
// ThingSpeak channels expose numbered fields, so the zero-config deployment
// maps field1/field2 to position.
type FieldMapping struct {
	Lat       string `mapstructure:"lat"`
	Lng       string `mapstructure:"lng"`
	Altitude  string `mapstructure:"altitude"`
	EntityKey string `mapstructure:"entity_key"`
	Timestamp string `mapstructure:"timestamp"`
	EntryID   string `mapstructure:"entry_id"`
}

// DefaultFieldMapping matches the observed ThingSpeak channel layout.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Lat:       "field1",
		Lng:       "field2",
		Altitude:  "field3",
		EntityKey: "field4",
		Timestamp: "created_at",
		EntryID:   "entry_id",
	}
}

// Normalizer converts raw provider records into typed readings.
// It is a pure transform with no side effects.
type Normalizer struct {
	mapping FieldMapping
}

// NewNormalizer creates a Normalizer for the given field mapping.
// Empty mapping entries fall back to the ThingSpeak defaults.
func NewNormalizer(mapping FieldMapping) *Normalizer {
	def := DefaultFieldMapping()
	if mapping.Lat == "" {
		mapping.Lat = def.Lat
	}
	if mapping.Lng == "" {
		mapping.Lng = def.Lng
	}
	if mapping.Altitude == "" {
		mapping.Altitude = def.Altitude
	}
	if mapping.EntityKey == "" {
		mapping.EntityKey = def.EntityKey
	}
	if mapping.Timestamp == "" {
		mapping.Timestamp = def.Timestamp
	}
	if mapping.EntryID == "" {
		mapping.EntryID = def.EntryID
	}
	return &Normalizer{mapping: mapping}
}

// Normalize validates one raw record and returns the typed reading.
func (n *Normalizer) Normalize(record RawRecord) (track.Reading, error) {
	var reading track.Reading

	lat, err := floatField(record, n.mapping.Lat)
	if err != nil {
		return reading, fmt.Errorf("%w: %s: %w", ErrInvalidCoordinate, n.mapping.Lat, err)
	}
	if lat < -90 || lat > 90 {
		return reading, fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	}

	lng, err := floatField(record, n.mapping.Lng)
	if err != nil {
		return reading, fmt.Errorf("%w: %s: %w", ErrInvalidCoordinate, n.mapping.Lng, err)
	}
	if lng < -180 || lng > 180 {
		return reading, fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, lng)
	}

	ts, err := timeField(record, n.mapping.Timestamp)
	if err != nil {
		return reading, fmt.Errorf("%w: %s: %w", ErrMissingTimestamp, n.mapping.Timestamp, err)
	}

	reading.Lat = lat
	reading.Lng = lng
	reading.Timestamp = ts

	if alt, err := floatField(record, n.mapping.Altitude); err == nil {
		reading.Altitude = &alt
	}

	if key, ok := record[n.mapping.EntityKey].(string); ok {
		reading.RawEntityKey = key
	}

	if id, err := intField(record, n.mapping.EntryID); err == nil {
		reading.SourceEntryID = id
	}

	return reading, nil
}

// floatField reads a numeric field that providers deliver either as a JSON
// number or as a string.
func floatField(record RawRecord, field string) (float64, error) {
	raw, ok := record[field]
	if !ok || raw == nil {
		return 0, errors.New("field absent")
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", raw)
	}
}

func intField(record RawRecord, field string) (int64, error) {
	f, err := floatField(record, field)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// timeField accepts RFC3339 strings and epoch values in seconds or
// milliseconds.
func timeField(record RawRecord, field string) (time.Time, error) {
	raw, ok := record[field]
	if !ok || raw == nil {
		return time.Time{}, errors.New("field absent")
	}
	switch v := raw.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("not a timestamp: %q", v)
		}
		return ts, nil
	case float64:
		// Millisecond epochs are unambiguous above this cutoff.
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC(), nil
		}
		return time.Unix(int64(v), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", raw)
	}
}
