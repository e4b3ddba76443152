// Package simulator provides a fake ThingSpeak-style feed server for demos
// and manual testing: virtual trackers wander around the campus boundary
// and their positions are served in the provider's wire shape.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Campus center used as the walk origin, matching the default boundary.
const (
	originLat = 13.719
	originLng = -89.203

	// stepDegrees is the maximum per-tick movement, roughly 20m.
	stepDegrees = 0.0002

	// maxEntries bounds the retained feed history.
	maxEntries = 500
)

// Tracker is one simulated collar wandering near the campus.
type Tracker struct {
	Key string
	lat float64
	lng float64
	alt float64
}

// feedEntry mirrors the ThingSpeak feed record shape: numeric fields are
// serialized as strings, as the real provider does.
type feedEntry struct {
	CreatedAt string `json:"created_at"`
	EntryID   int64  `json:"entry_id"`
	Field1    string `json:"field1"`
	Field2    string `json:"field2"`
	Field3    string `json:"field3"`
	Field4    string `json:"field4,omitempty"`
}

// Config holds the simulator configuration.
type Config struct {
	Logger *slog.Logger
	// TrackerKeys are the entity keys reported in field4. Empty means one
	// untagged shared tracker, exercising the broadcast fallback.
	TrackerKeys []string
	// Interval is the time between simulated samples.
	Interval time.Duration
}

// Simulator generates and serves fake feed entries.
type Simulator struct {
	logger   *slog.Logger
	interval time.Duration
	trackers []*Tracker

	mu      sync.RWMutex
	entries []feedEntry
	nextID  int64
}

// New creates a simulator. With no tracker keys a single untagged tracker
// is generated with a fake pet name for the logs only.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	keys := cfg.TrackerKeys
	if len(keys) == 0 {
		keys = []string{""}
	}

	trackers := make([]*Tracker, 0, len(keys))
	for _, key := range keys {
		name := key
		if name == "" {
			name = gofakeit.PetName()
		}
		cfg.Logger.Info("created simulated tracker", "name", name, "key", key)
		trackers = append(trackers, &Tracker{
			Key: key,
			lat: originLat + (rand.Float64()-0.5)*stepDegrees*10, // #nosec G404 - simulation data
			lng: originLng + (rand.Float64()-0.5)*stepDegrees*10, // #nosec G404 - simulation data
			alt: 650 + rand.Float64()*20,                         // #nosec G404 - simulation data
		})
	}

	return &Simulator{
		logger:   cfg.Logger,
		interval: interval,
		trackers: trackers,
		nextID:   1,
	}, nil
}

// Run advances all trackers on the configured interval until ctx is
// canceled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.step()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return nil
		case <-ticker.C:
			s.step()
		}
	}
}

// step moves every tracker one random-walk increment and records entries.
func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, t := range s.trackers {
		t.lat += (rand.Float64() - 0.5) * 2 * stepDegrees // #nosec G404 - simulation data
		t.lng += (rand.Float64() - 0.5) * 2 * stepDegrees // #nosec G404 - simulation data

		entry := feedEntry{
			CreatedAt: now.Format(time.RFC3339),
			EntryID:   s.nextID,
			Field1:    strconv.FormatFloat(t.lat, 'f', 6, 64),
			Field2:    strconv.FormatFloat(t.lng, 'f', 6, 64),
			Field3:    strconv.FormatFloat(t.alt, 'f', 1, 64),
			Field4:    t.Key,
		}
		s.nextID++
		s.entries = append(s.entries, entry)
	}

	if len(s.entries) > maxEntries {
		s.entries = s.entries[len(s.entries)-maxEntries:]
	}
}

// Handler serves the feed in the provider wire shape under
// /channels/{channel}/feeds.json.
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /channels/{channel}/feeds.json", func(w http.ResponseWriter, r *http.Request) {
		results := 1
		if raw := r.URL.Query().Get("results"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				results = n
			}
		}

		s.mu.RLock()
		start := len(s.entries) - results
		if start < 0 {
			start = 0
		}
		feeds := make([]feedEntry, len(s.entries)-start)
		copy(feeds, s.entries[start:])
		s.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"channel": map[string]any{"id": r.PathValue("channel")},
			"feeds":   feeds,
		}); err != nil {
			s.logger.Error("failed to encode feed", "error", err)
		}
	})
	return mux
}

// Serve runs an HTTP server exposing the fake feed until ctx is canceled.
func (s *Simulator) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("simulator feed listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
