package server

import (
	"encoding/json"

	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/state"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Sessions    int    `json:"sessions"`
	Subscribers int    `json:"subscribers"`
}

type SessionListResponse struct {
	Sessions       []state.Session `json:"sessions"`
	CurrentSession string          `json:"currentSessionId,omitempty"`
}

type TurnListResponse struct {
	SessionID string             `json:"sessionId"`
	Turns     []state.TurnRecord `json:"turns"`
}

type TimeSeriesResponse struct {
	SessionID string           `json:"sessionId"`
	Bucket    string           `json:"bucket"`
	Dense     bool             `json:"dense"`
	Buckets   []metrics.Bucket `json:"buckets"`
}

// CurrentSessionResponse carries a nil SessionID when no session is current.
type CurrentSessionResponse struct {
	SessionID *string        `json:"sessionId"`
	Session   *state.Session `json:"session,omitempty"`
}

type SetCurrentRequest struct {
	SessionID string `json:"sessionId"`
}

// RecentEventsResponse holds encoded event envelopes, oldest first.
type RecentEventsResponse struct {
	Events []json.RawMessage `json:"events"`
}
