package state

import (
	"errors"
	"time"

	"github.com/barkain/ironhide/internal/metrics"
)

// UnknownSessionID is the bucket for turns that arrive without a session id.
const UnknownSessionID = "unknown"

// DefaultActivityWindow is how long after its last turn a session still
// counts as active.
const DefaultActivityWindow = 5 * time.Minute

// ErrNotFound is returned by reads for session ids the store does not hold.
var ErrNotFound = errors.New("not found")

// Session is the metadata of a tracked session. IsActive is derived at read
// time from LastActivityAt and the store's activity window.
type Session struct {
	ID             string    `json:"id"`
	ProjectName    string    `json:"projectName"`
	Branch         string    `json:"branch,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	IsActive       bool      `json:"isActive"`
	TurnCount      int       `json:"turnCount"`
}

// SessionStatus is a display label derived from IsActive.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusIdle   SessionStatus = "idle"
)

// Status returns the session's display status.
func (s Session) Status() SessionStatus {
	if s.IsActive {
		return StatusActive
	}
	return StatusIdle
}

// TurnRecord pairs a stored turn with its derived metrics.
type TurnRecord struct {
	Turn    metrics.Turn        `json:"turn"`
	Metrics metrics.TurnMetrics `json:"metrics"`
}

// Snapshot is a consistent view of one session: the session, every turn in
// turn-number order and the session aggregate, all read under one lock.
type Snapshot struct {
	Session Session                `json:"session"`
	Turns   []TurnRecord           `json:"turns"`
	Metrics metrics.SessionMetrics `json:"metrics"`
}

// TurnResult is what RecordTurn returns. Applied is false when the write
// was ignored because the turn had already completed; the other fields then
// hold the unchanged stored values.
type TurnResult struct {
	Session        Session                `json:"session"`
	Turn           metrics.Turn           `json:"turn"`
	TurnMetrics    metrics.TurnMetrics    `json:"turnMetrics"`
	SessionMetrics metrics.SessionMetrics `json:"sessionMetrics"`
	Status         metrics.TurnStatus     `json:"status"`
	Created        bool                   `json:"created"`
	Applied        bool                   `json:"applied"`
}

// ChangeKind identifies what a Change describes.
type ChangeKind int

const (
	ChangeTurn ChangeKind = iota
	ChangeSession
	ChangeRemoved
)

// String returns a human-readable name for the kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeTurn:
		return "turn"
	case ChangeSession:
		return "session"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is delivered to listeners after every mutation. Result is only
// set for ChangeTurn.
type Change struct {
	Kind    ChangeKind
	Session Session
	Result  TurnResult
}
