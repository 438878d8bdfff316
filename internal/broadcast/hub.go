// Package broadcast fans store changes out to subscribers as wire events.
// Subscribers pick a scope: everything, or a single session. Each
// subscriber owns a bounded queue; when it falls behind, the oldest queued
// event is dropped so publishers never block.
package broadcast

import (
	"context"
	"errors"
	"log"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/barkain/ironhide/internal/events"
	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/state"
)

// ErrClosed is returned by Subscribe after the hub has been closed.
var ErrClosed = errors.New("broadcast hub closed")

// Config controls queue sizes and timer intervals.
type Config struct {
	// HeartbeatInterval is how often a heartbeat reaches every subscriber.
	HeartbeatInterval time.Duration
	// MetricsInterval coalesces metrics events. Zero publishes a metrics
	// event after every turn.
	MetricsInterval time.Duration
	// SubscriberBuffer is the per-subscriber queue length.
	SubscriberBuffer int
	// HistorySize is the number of recent events kept for replay queries.
	HistorySize int
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		MetricsInterval:   time.Second,
		SubscriberBuffer:  256,
		HistorySize:       1000,
	}
}

// Scope selects which events a subscription receives. The zero value is the
// global scope.
type Scope struct {
	SessionID string
}

// Global returns the scope that receives every event.
func Global() Scope { return Scope{} }

// ForSession returns the scope of a single session.
func ForSession(sessionID string) Scope { return Scope{SessionID: sessionID} }

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool { return s.SessionID == "" }

func (s Scope) matches(e events.Event) bool {
	sid := e.SessionID()
	return s.IsGlobal() || sid == "" || sid == s.SessionID
}

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	id      string
	scope   Scope
	ch      chan events.Event
	hub     *Hub
	done    bool // guarded by hub.mu
	dropped atomic.Int64
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Scope returns the scope the subscription was created with.
func (s *Subscription) Scope() Scope { return s.scope }

// Events returns the channel events are delivered on. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan events.Event { return s.ch }

// Dropped returns how many events were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe stops delivery and closes the events channel. Safe to call
// more than once and from any goroutine.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s)
}

// Hub routes events to subscriptions. All methods are safe for concurrent
// use.
type Hub struct {
	store   state.Reader
	cfg     Config
	history *events.RingBuffer
	now     func() time.Time

	mu     sync.Mutex
	subs   []*Subscription
	dirty  map[string]struct{}
	closed bool
}

// New creates a hub that reads snapshots and aggregates from store.
func New(store state.Reader, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MetricsInterval < 0 {
		cfg.MetricsInterval = 0
	}
	return &Hub{
		store:   store,
		cfg:     cfg,
		history: events.NewRingBuffer(cfg.HistorySize),
		now:     time.Now,
		dirty:   make(map[string]struct{}),
	}
}

// quiescer is implemented by stores that can hold off writers, and their
// listeners, while a snapshot is taken. state.MemoryStore implements it.
type quiescer interface {
	Quiesce(fn func())
}

// Subscribe registers a new subscription. A session-scoped subscription
// receives a snapshot of the session before any live event. When the store
// is a quiescer, the snapshot is taken and the subscription registered
// while no write is in flight, so every turn is delivered exactly once:
// either in the snapshot or as a live event. Subscribing to a session the
// store does not hold yet is allowed and yields an empty snapshot.
func (h *Hub) Subscribe(scope Scope) (*Subscription, error) {
	q, ok := h.store.(quiescer)
	if !ok || scope.IsGlobal() {
		return h.subscribe(scope)
	}

	var (
		sub *Subscription
		err error
	)
	q.Quiesce(func() { sub, err = h.subscribe(scope) })
	return sub, err
}

func (h *Hub) subscribe(scope Scope) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		scope: scope,
		ch:    make(chan events.Event, h.cfg.SubscriberBuffer),
		hub:   h,
	}

	if !scope.IsGlobal() {
		sub.ch <- h.snapshotLocked(scope.SessionID)
	}

	h.subs = append(h.subs, sub)
	return sub, nil
}

// snapshotLocked builds the initial event for a session subscription.
// Caller must hold h.mu.
func (h *Hub) snapshotLocked(sessionID string) events.Event {
	now := h.now()
	snap, err := h.store.Snapshot(sessionID)
	if err != nil {
		empty := metrics.Recompute(nil)
		return events.SessionEvent{
			Type:      events.SessionSnapshot,
			Session:   state.Session{ID: sessionID},
			Turns:     []state.TurnRecord{},
			Metrics:   &empty,
			Timestamp: now,
		}
	}
	return events.NewSnapshot(snap, now)
}

// Publish delivers e to every matching subscription in registration order.
// It never blocks on a slow subscriber.
func (h *Hub) Publish(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(e)
}

// publishLocked delivers e. Caller must hold h.mu.
func (h *Hub) publishLocked(e events.Event) {
	if h.closed {
		return
	}
	if e.Kind() != events.KindHeartbeat {
		h.history.Add(e)
	}
	for _, sub := range h.subs {
		if sub.scope.matches(e) {
			deliver(sub, e)
		}
	}
}

// deliver enqueues e, evicting the oldest queued event when the queue is
// full. Publishes are serialized by the hub lock, so the only competitor is
// the subscriber draining its own queue.
func deliver(sub *Subscription, e events.Event) {
	select {
	case sub.ch <- e:
		return
	default:
	}
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- e:
	default:
		sub.dropped.Add(1)
	}
}

// HandleChange turns a store change into events. Register it with
// store.OnChange.
func (h *Hub) HandleChange(c state.Change) {
	now := h.now()

	h.mu.Lock()
	for _, e := range events.FromChange(c, now) {
		h.publishLocked(e)
	}

	switch c.Kind {
	case state.ChangeTurn:
		if h.cfg.MetricsInterval == 0 {
			h.publishLocked(events.MetricsEvent{
				Type:           events.MetricsAggregate,
				Session:        c.Session.ID,
				SessionMetrics: c.Result.SessionMetrics,
				Timestamp:      now,
			})
		} else {
			h.dirty[c.Session.ID] = struct{}{}
		}
	case state.ChangeRemoved:
		delete(h.dirty, c.Session.ID)
		h.publishLocked(events.ErrorEvent{
			Code:      "session_removed",
			Message:   "session " + c.Session.ID + " was removed",
			Session:   c.Session.ID,
			Timestamp: now,
		})
	}
	h.mu.Unlock()
}

// FlushMetrics publishes one metrics aggregate for every session that
// changed since the last flush.
func (h *Hub) FlushMetrics() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.dirty))
	for id := range h.dirty {
		ids = append(ids, id)
	}
	clear(h.dirty)
	h.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		m, err := h.store.GetSessionMetrics(id)
		if err != nil {
			continue
		}
		h.Publish(events.MetricsEvent{
			Type:           events.MetricsAggregate,
			Session:        id,
			SessionMetrics: m,
			Timestamp:      h.now(),
		})
	}
}

// Heartbeat publishes a heartbeat to every subscription.
func (h *Hub) Heartbeat() {
	h.Publish(events.Heartbeat{Timestamp: h.now()})
}

// Run drives heartbeats and metrics flushes until ctx is cancelled, then
// closes the hub.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	var flush <-chan time.Time
	if h.cfg.MetricsInterval > 0 {
		t := time.NewTicker(h.cfg.MetricsInterval)
		defer t.Stop()
		flush = t.C
	}

	for {
		select {
		case <-ctx.Done():
			h.FlushMetrics()
			h.Close()
			return
		case <-heartbeat.C:
			h.Heartbeat()
		case <-flush:
			h.FlushMetrics()
		}
	}
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		sub.done = true
		close(sub.ch)
	}
	h.subs = nil
}

// remove unregisters sub and closes its channel.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.done {
		return
	}
	sub.done = true
	for i, s := range h.subs {
		if s == sub {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			break
		}
	}
	if dropped := sub.dropped.Load(); dropped > 0 {
		log.Printf("[broadcast] subscriber %s dropped %d events", sub.id, dropped)
	}
	close(sub.ch)
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Recent returns up to n of the most recently published events.
func (h *Hub) Recent(n int) []events.Event {
	return h.history.Recent(n)
}

// RecentMatching is Recent restricted to one session and/or one kind. Empty
// filters match everything.
func (h *Hub) RecentMatching(sessionID string, kind events.Kind, n int) []events.Event {
	var list []events.Event
	switch {
	case sessionID != "":
		list = h.history.ListBySession(sessionID)
		if kind != "" {
			list = slices.DeleteFunc(list, func(e events.Event) bool { return e.Kind() != kind })
		}
	case kind != "":
		list = h.history.ListByKind(kind)
	default:
		return h.history.Recent(n)
	}
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return list
}
