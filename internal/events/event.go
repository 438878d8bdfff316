// Package events defines the wire events pushed to observers, their JSON
// codec, and a bounded history of recent events.
package events

import (
	"time"

	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/state"
)

// Kind is the tag carried in the "event" field of every envelope.
type Kind string

const (
	KindConnected Kind = "connected"
	KindSession   Kind = "session"
	KindTurn      Kind = "turn"
	KindMetrics   Kind = "metrics"
	KindHeartbeat Kind = "heartbeat"
	KindError     Kind = "error"
)

// Kinds lists every event kind.
var Kinds = []Kind{KindConnected, KindSession, KindTurn, KindMetrics, KindHeartbeat, KindError}

// Event is a closed set: only the types in this package implement it.
// Use Accept with a Visitor to handle every variant.
type Event interface {
	Kind() Kind
	// SessionID is the session the event belongs to, or "" for events
	// that are not scoped to a session.
	SessionID() string
	Time() time.Time
	Accept(v Visitor)
	isEvent()
}

// Visitor has one method per event variant. Adding a variant adds a method,
// so every implementation must handle it.
type Visitor interface {
	VisitConnected(Connected)
	VisitSession(SessionEvent)
	VisitTurn(TurnEvent)
	VisitMetrics(MetricsEvent)
	VisitHeartbeat(Heartbeat)
	VisitError(ErrorEvent)
}

// Connected is sent once when a push connection opens.
type Connected struct {
	Session       *string   `json:"sessionId"`
	Timestamp     time.Time `json:"timestamp"`
	ServerVersion string    `json:"serverVersion"`
}

func (e Connected) Kind() Kind { return KindConnected }
func (e Connected) SessionID() string {
	if e.Session == nil {
		return ""
	}
	return *e.Session
}
func (e Connected) Time() time.Time { return e.Timestamp }
func (e Connected) Accept(v Visitor) { v.VisitConnected(e) }
func (Connected) isEvent() {}

// SessionEventType distinguishes the initial snapshot from later updates.
type SessionEventType string

const (
	SessionSnapshot SessionEventType = "snapshot"
	SessionUpdate   SessionEventType = "update"
)

// SessionEvent carries session state. Snapshots include every turn and the
// aggregate; updates carry only the session metadata.
type SessionEvent struct {
	Type      SessionEventType        `json:"type"`
	Session   state.Session           `json:"session"`
	Turns     []state.TurnRecord      `json:"turns,omitempty"`
	Metrics   *metrics.SessionMetrics `json:"metrics,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

func (e SessionEvent) Kind() Kind { return KindSession }
func (e SessionEvent) SessionID() string { return e.Session.ID }
func (e SessionEvent) Time() time.Time { return e.Timestamp }
func (e SessionEvent) Accept(v Visitor) { v.VisitSession(e) }
func (SessionEvent) isEvent() {}

// TurnEvent reports a turn write. Type mirrors the status it was recorded
// with.
type TurnEvent struct {
	Type      metrics.TurnStatus  `json:"type"`
	Turn      metrics.Turn        `json:"turn"`
	Metrics   metrics.TurnMetrics `json:"metrics"`
	Timestamp time.Time           `json:"timestamp"`
}

func (e TurnEvent) Kind() Kind { return KindTurn }
func (e TurnEvent) SessionID() string { return e.Turn.SessionID }
func (e TurnEvent) Time() time.Time { return e.Timestamp }
func (e TurnEvent) Accept(v Visitor) { v.VisitTurn(e) }
func (TurnEvent) isEvent() {}

// MetricsAggregate is the only MetricsEvent type.
const MetricsAggregate = "aggregate"

// MetricsEvent carries a session aggregate.
type MetricsEvent struct {
	Type           string                 `json:"type"`
	Session        string                 `json:"sessionId"`
	SessionMetrics metrics.SessionMetrics `json:"sessionMetrics"`
	Timestamp      time.Time              `json:"timestamp"`
}

func (e MetricsEvent) Kind() Kind { return KindMetrics }
func (e MetricsEvent) SessionID() string { return e.Session }
func (e MetricsEvent) Time() time.Time { return e.Timestamp }
func (e MetricsEvent) Accept(v Visitor) { v.VisitMetrics(e) }
func (MetricsEvent) isEvent() {}

// Heartbeat keeps idle connections alive.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e Heartbeat) Kind() Kind { return KindHeartbeat }
func (e Heartbeat) SessionID() string { return "" }
func (e Heartbeat) Time() time.Time { return e.Timestamp }
func (e Heartbeat) Accept(v Visitor) { v.VisitHeartbeat(e) }
func (Heartbeat) isEvent() {}

// ErrorEvent reports a server-side problem to observers.
type ErrorEvent struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Session   string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ErrorEvent) Kind() Kind { return KindError }
func (e ErrorEvent) SessionID() string { return e.Session }
func (e ErrorEvent) Time() time.Time { return e.Timestamp }
func (e ErrorEvent) Accept(v Visitor) { v.VisitError(e) }
func (ErrorEvent) isEvent() {}

// NewSnapshot builds a snapshot event from a store snapshot.
func NewSnapshot(snap state.Snapshot, at time.Time) SessionEvent {
	m := snap.Metrics
	return SessionEvent{
		Type:      SessionSnapshot,
		Session:   snap.Session,
		Turns:     snap.Turns,
		Metrics:   &m,
		Timestamp: at,
	}
}

// FromChange converts a store change into the events it should produce.
// Removals produce none.
func FromChange(c state.Change, at time.Time) []Event {
	switch c.Kind {
	case state.ChangeTurn:
		var out []Event
		if c.Result.Created {
			out = append(out, SessionEvent{Type: SessionUpdate, Session: c.Session, Timestamp: at})
		}
		return append(out, TurnEvent{
			Type:      c.Result.Status,
			Turn:      c.Result.Turn,
			Metrics:   c.Result.TurnMetrics,
			Timestamp: at,
		})
	case state.ChangeSession:
		return []Event{SessionEvent{Type: SessionUpdate, Session: c.Session, Timestamp: at}}
	default:
		return nil
	}
}
