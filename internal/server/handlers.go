package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/barkain/ironhide/internal/events"
	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/state"
)

const (
	defaultRecentLimit = 50
	maxBodyBytes       = 1 << 20
)

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Sessions:    len(s.store.GetAllSessions()),
		Subscribers: s.hub.SubscriberCount(),
	})
}

// handleListSessions handles GET /api/sessions[?status=active|idle].
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.GetAllSessions()
	switch status := state.SessionStatus(r.URL.Query().Get("status")); status {
	case "":
	case state.StatusActive, state.StatusIdle:
		sessions = state.FilterSessionsByStatus(sessions, status)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}
	respondJSON(w, http.StatusOK, SessionListResponse{
		Sessions:       sessions,
		CurrentSession: s.store.GetCurrentSessionID(),
	})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveSession(r.PathValue("id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionMetrics handles GET /api/sessions/{id}/metrics.
func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetSessionMetrics(r.PathValue("id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleSessionTurns handles GET /api/sessions/{id}/turns.
func (s *Server) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.store.GetSessionTurns(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TurnListResponse{SessionID: id, Turns: turns})
}

// handleTimeSeries handles GET /api/sessions/{id}/timeseries?bucket=5m&dense=true.
func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	width := metrics.DefaultBucketWidth
	if v := q.Get("bucket"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid bucket %q", v))
			return
		}
		width = d
	}
	var dense bool
	if v := q.Get("dense"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid dense %q", v))
			return
		}
		dense = b
	}

	turns, err := s.store.GetSessionTurns(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	tms := make([]metrics.TurnMetrics, len(turns))
	for i, tr := range turns {
		tms[i] = tr.Metrics
	}

	opts := metrics.SeriesOptions{Dense: dense}
	if dense {
		if n := metrics.DenseBucketCount(tms, width, opts); n > metrics.DefaultMaxBuckets {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("dense series would hold %d buckets, limit is %d", n, metrics.DefaultMaxBuckets))
			return
		}
	}
	buckets := slices.Collect(metrics.TimeSeries(tms, width, opts))
	if buckets == nil {
		buckets = []metrics.Bucket{}
	}
	respondJSON(w, http.StatusOK, TimeSeriesResponse{
		SessionID: id,
		Bucket:    width.String(),
		Dense:     dense,
		Buckets:   buckets,
	})
}

// handleGetCurrent handles GET /api/current.
func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	var resp CurrentSessionResponse
	if id := s.store.GetCurrentSessionID(); id != "" {
		resp.SessionID = &id
		if sess, err := s.store.GetSession(id); err == nil {
			resp.Session = &sess
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSetCurrent handles PUT /api/current. An empty sessionId clears the
// current session.
func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SetCurrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if req.SessionID == "" {
		s.store.ClearCurrentSession()
		respondJSON(w, http.StatusOK, CurrentSessionResponse{})
		return
	}

	sess, err := s.store.GetSession(req.SessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.store.SetCurrentSessionID(sess.ID)
	respondJSON(w, http.StatusOK, CurrentSessionResponse{SessionID: &sess.ID, Session: &sess})
}

// handleBurnRate handles GET /api/burnrate.
func (s *Server) handleBurnRate(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.burn.ComputeWithTime(s.store, s.now()))
}

// handleRecentEvents handles GET /api/events/recent?limit=N[&session=<id>][&kind=<kind>].
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	kind := events.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !slices.Contains(events.Kinds, kind) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid kind %q", kind))
		return
	}

	recent := s.hub.RecentMatching(r.URL.Query().Get("session"), kind, limit)
	resp := RecentEventsResponse{Events: make([]json.RawMessage, 0, len(recent))}
	for _, e := range recent {
		data, err := events.Encode(e)
		if err != nil {
			log.Printf("[HTTP] WARNING: skipping %s event: %v", e.Kind(), err)
			continue
		}
		resp.Events = append(resp.Events, data)
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondStoreError maps store errors to status codes.
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, state.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
