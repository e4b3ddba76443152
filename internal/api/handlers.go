package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mascotas.dev/petwatch/internal/history"
	"mascotas.dev/petwatch/internal/track"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVisits serves the merged visit history across all entities,
// most recent first.
func (s *Server) handleVisits(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, history.DefaultLimit)

	entityIDs := make([]string, 0, len(s.config.Entities))
	for _, e := range s.config.Entities {
		entityIDs = append(entityIDs, e.ID)
	}
	if len(entityIDs) == 0 {
		entityIDs = s.snapshotEntities()
	}

	var merged []track.Visit
	for _, id := range entityIDs {
		visits, err := s.query.ForEntity(r.Context(), id, nil, limit)
		if err != nil {
			s.logger.Error("failed to fetch visits", "entity_id", id, "error", err)
			http.Error(w, "failed to fetch visits", http.StatusInternalServerError)
			return
		}
		merged = append(merged, visits...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RecordedAt.After(merged[j].RecordedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []track.Visit{}
	}

	s.respondJSON(w, http.StatusOK, merged)
}

// handleLatestVisit serves the most recent visit across all entities.
// An empty object means no visit has been recorded yet.
func (s *Server) handleLatestVisit(w http.ResponseWriter, r *http.Request) {
	visit, err := s.query.Latest(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch latest visit", "error", err)
		http.Error(w, "failed to fetch latest visit", http.StatusInternalServerError)
		return
	}
	if visit == nil {
		s.respondJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.respondJSON(w, http.StatusOK, visit)
}

// handleEntityVisits serves one pet's history, optionally restricted to a
// single calendar day (date=YYYY-MM-DD, local time).
func (s *Server) handleEntityVisits(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")
	limit := queryLimit(r, history.DefaultLimit)

	var day *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = &parsed
	}

	visits, err := s.query.ForEntity(r.Context(), entityID, day, limit)
	if err != nil {
		s.logger.Error("failed to fetch entity visits", "entity_id", entityID, "error", err)
		http.Error(w, "failed to fetch visits", http.StatusInternalServerError)
		return
	}
	if visits == nil {
		visits = []track.Visit{}
	}

	s.respondJSON(w, http.StatusOK, visits)
}

// handleStatus serves the scheduler's health and the latest entity
// snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "no ingestion engine in this process", http.StatusNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) snapshotEntities(ids ...string) []string {
	if s.scheduler == nil {
		return ids
	}
	snap := s.scheduler.Snapshot()
	if snap == nil {
		return ids
	}
	for _, e := range snap.Entities {
		ids = append(ids, e.EntityID)
	}
	return ids
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
