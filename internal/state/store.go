package state

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/pricing"
)

// Reader is the read contract over the store. All methods are safe for
// concurrent use and return copies the caller may keep.
type Reader interface {
	// GetSession returns the session or an error wrapping ErrNotFound.
	GetSession(sessionID string) (Session, error)

	// GetSessionMetrics returns the session aggregate or an error wrapping
	// ErrNotFound.
	GetSessionMetrics(sessionID string) (metrics.SessionMetrics, error)

	// GetSessionTurns returns every turn in turn-number order.
	GetSessionTurns(sessionID string) ([]TurnRecord, error)

	// GetAllSessions returns every session sorted by start time.
	GetAllSessions() []Session

	// Snapshot reads a session, its turns and its metrics atomically.
	Snapshot(sessionID string) (Snapshot, error)

	// GetCurrentSessionID returns the current session id, or "" if unset.
	GetCurrentSessionID() string
}

// Store is the full session store: the read contract plus mutations.
type Store interface {
	Reader

	// RecordTurn inserts or updates a turn and recomputes the session.
	// It never fails; an empty session id is stored under UnknownSessionID.
	RecordTurn(sessionID string, turn metrics.Turn, status metrics.TurnStatus) TurnResult

	// UpdateSessionInfo sets project and branch. Empty values are ignored.
	UpdateSessionInfo(sessionID, projectName, branch string)

	// SetCurrentSessionID marks a session as current. Last writer wins.
	SetCurrentSessionID(sessionID string)

	// ClearCurrentSession unsets the current session.
	ClearCurrentSession()

	// RemoveSession deletes a session and everything recorded for it.
	RemoveSession(sessionID string) error

	// OnChange registers a listener invoked after every mutation.
	OnChange(fn ChangeListener)
}

// ChangeListener is a callback invoked after the store changes. Listeners
// run outside the data lock, one mutation at a time and in mutation order.
// They may read from the store but must not write to it.
type ChangeListener func(c Change)

// sessionState is everything held for one session.
type sessionState struct {
	session     Session
	turns       []metrics.Turn
	turnMetrics []metrics.TurnMetrics
	index       map[string]int
	metrics     metrics.SessionMetrics
}

// MemoryStore is a thread-safe in-memory implementation of Store.
// Writers are serialized by writeMu so listeners observe mutations in
// order; data is guarded by mu so reads never see a half-applied turn.
type MemoryStore struct {
	writeMu sync.Mutex

	mu        sync.RWMutex
	sessions  map[string]*sessionState
	currentID string
	listeners []ChangeListener

	calc           *metrics.Calculator
	activityWindow time.Duration
	now            func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithPricing prices turns with the given table.
func WithPricing(table *pricing.Table) Option {
	return func(ms *MemoryStore) {
		ms.calc = metrics.NewCalculator(table)
	}
}

// WithActivityWindow sets how long a session stays active after its last
// turn.
func WithActivityWindow(d time.Duration) Option {
	return func(ms *MemoryStore) {
		if d > 0 {
			ms.activityWindow = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(ms *MemoryStore) {
		ms.now = now
	}
}

// NewMemoryStore creates a new empty MemoryStore ready for use.
func NewMemoryStore(opts ...Option) *MemoryStore {
	ms := &MemoryStore{
		sessions:       make(map[string]*sessionState),
		calc:           metrics.NewCalculator(nil),
		activityWindow: DefaultActivityWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// OnChange registers a listener that is called after every mutation.
func (ms *MemoryStore) OnChange(fn ChangeListener) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.listeners = append(ms.listeners, fn)
}

// resolveSessionID returns the provided sessionID if non-empty, or
// UnknownSessionID with a warning log if empty.
func resolveSessionID(sessionID string) string {
	if sessionID == "" {
		log.Printf("WARNING: turn received without session.id, storing under %q", UnknownSessionID)
		return UnknownSessionID
	}
	return sessionID
}

// getOrCreateSession returns the existing session or creates one starting
// at startedAt. Caller must hold ms.mu (write lock).
func (ms *MemoryStore) getOrCreateSession(sessionID string, startedAt time.Time) (*sessionState, bool) {
	s, ok := ms.sessions[sessionID]
	if ok {
		return s, false
	}
	s = &sessionState{
		session: Session{
			ID:             sessionID,
			StartedAt:      startedAt,
			LastActivityAt: startedAt,
		},
		index: make(map[string]int),
	}
	s.metrics = metrics.Recompute(nil)
	ms.sessions[sessionID] = s
	return s, true
}

// RecordTurn inserts or updates a turn keyed by its id and recomputes the
// session aggregate. Turn numbers are assigned here: a new id gets the next
// number, an existing id keeps its own. Once a turn has completed, further
// writes to it are ignored.
func (ms *MemoryStore) RecordTurn(sessionID string, turn metrics.Turn, status metrics.TurnStatus) TurnResult {
	sessionID = resolveSessionID(sessionID)
	if !status.Valid() {
		log.Printf("WARNING: turn %q has unknown status %q, treating as %q", turn.ID, status, metrics.StatusUpdate)
		status = metrics.StatusUpdate
	}

	ms.writeMu.Lock()
	defer ms.writeMu.Unlock()

	ms.mu.Lock()
	res := ms.recordLocked(sessionID, turn, status)
	listeners := ms.listeners
	ms.mu.Unlock()

	if res.Applied {
		ms.notify(listeners, Change{Kind: ChangeTurn, Session: res.Session, Result: res})
	}
	return res
}

// recordLocked applies a turn write. Caller must hold ms.mu (write lock).
func (ms *MemoryStore) recordLocked(sessionID string, turn metrics.Turn, status metrics.TurnStatus) TurnResult {
	now := ms.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	turn.SessionID = sessionID
	turn.Status = status
	turn = turn.Clone()

	s, created := ms.getOrCreateSession(sessionID, turn.Timestamp)

	idx, exists := s.index[turn.ID]
	if exists && s.turns[idx].Status == metrics.StatusComplete {
		log.Printf("WARNING: ignoring %s for completed turn %q in session %q", status, turn.ID, sessionID)
		return TurnResult{
			Session:        ms.sessionView(s, now),
			Turn:           s.turns[idx].Clone(),
			TurnMetrics:    s.turnMetrics[idx].Clone(),
			SessionMetrics: s.metrics.Clone(),
			Status:         s.turns[idx].Status,
		}
	}

	if exists {
		turn.TurnNumber = s.turns[idx].TurnNumber
		s.turns[idx] = turn
		s.turnMetrics[idx] = ms.calc.ComputeTurn(turn)
	} else {
		turn.TurnNumber = len(s.turns) + 1
		idx = len(s.turns)
		s.index[turn.ID] = idx
		s.turns = append(s.turns, turn)
		s.turnMetrics = append(s.turnMetrics, ms.calc.ComputeTurn(turn))
	}

	s.metrics = metrics.Recompute(s.turnMetrics)
	s.session.TurnCount = len(s.turns)
	if turn.Timestamp.After(s.session.LastActivityAt) {
		s.session.LastActivityAt = turn.Timestamp
	}
	if turn.Timestamp.Before(s.session.StartedAt) {
		s.session.StartedAt = turn.Timestamp
	}

	if ms.currentID == "" {
		ms.currentID = sessionID
	}

	return TurnResult{
		Session:        ms.sessionView(s, now),
		Turn:           turn.Clone(),
		TurnMetrics:    s.turnMetrics[idx].Clone(),
		SessionMetrics: s.metrics.Clone(),
		Status:         status,
		Created:        created,
		Applied:        true,
	}
}

// UpdateSessionInfo sets the project name and branch of a session, creating
// it if needed. Empty values leave the stored value untouched.
func (ms *MemoryStore) UpdateSessionInfo(sessionID, projectName, branch string) {
	sessionID = resolveSessionID(sessionID)

	ms.writeMu.Lock()
	defer ms.writeMu.Unlock()

	ms.mu.Lock()
	now := ms.now()
	s, created := ms.getOrCreateSession(sessionID, now)
	changed := created
	if projectName != "" && projectName != s.session.ProjectName {
		s.session.ProjectName = projectName
		changed = true
	}
	if branch != "" && branch != s.session.Branch {
		s.session.Branch = branch
		changed = true
	}
	view := ms.sessionView(s, now)
	listeners := ms.listeners
	ms.mu.Unlock()

	if changed {
		ms.notify(listeners, Change{Kind: ChangeSession, Session: view})
	}
}

// Quiesce runs fn while no write is being applied or notified. A reader
// that registers itself inside fn observes every later change through its
// listener and none of the earlier ones. fn must not write to the store.
func (ms *MemoryStore) Quiesce(fn func()) {
	ms.writeMu.Lock()
	defer ms.writeMu.Unlock()
	fn()
}

// SetCurrentSessionID marks sessionID as the current session.
func (ms *MemoryStore) SetCurrentSessionID(sessionID string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.currentID = sessionID
}

// ClearCurrentSession unsets the current session.
func (ms *MemoryStore) ClearCurrentSession() {
	ms.SetCurrentSessionID("")
}

// GetCurrentSessionID returns the current session id, or "" if none is set.
func (ms *MemoryStore) GetCurrentSessionID() string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.currentID
}

// RemoveSession deletes a session. The current session is cleared if it
// pointed at the removed one.
func (ms *MemoryStore) RemoveSession(sessionID string) error {
	ms.writeMu.Lock()
	defer ms.writeMu.Unlock()

	ms.mu.Lock()
	s, ok := ms.sessions[sessionID]
	if !ok {
		ms.mu.Unlock()
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	view := ms.sessionView(s, ms.now())
	delete(ms.sessions, sessionID)
	if ms.currentID == sessionID {
		ms.currentID = ""
	}
	listeners := ms.listeners
	ms.mu.Unlock()

	ms.notify(listeners, Change{Kind: ChangeRemoved, Session: view})
	return nil
}

// GetSession returns a copy of the session for the given ID.
func (ms *MemoryStore) GetSession(sessionID string) (Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return ms.sessionView(s, ms.now()), nil
}

// GetSessionMetrics returns a copy of the session aggregate.
func (ms *MemoryStore) GetSessionMetrics(sessionID string) (metrics.SessionMetrics, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.sessions[sessionID]
	if !ok {
		return metrics.SessionMetrics{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return s.metrics.Clone(), nil
}

// GetSessionTurns returns copies of every turn with its metrics, in
// turn-number order.
func (ms *MemoryStore) GetSessionTurns(sessionID string) ([]TurnRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return copyTurns(s), nil
}

// Snapshot returns the session, its turns and its aggregate read under a
// single lock.
func (ms *MemoryStore) Snapshot(sessionID string) (Snapshot, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.sessions[sessionID]
	if !ok {
		return Snapshot{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return Snapshot{
		Session: ms.sessionView(s, ms.now()),
		Turns:   copyTurns(s),
		Metrics: s.metrics.Clone(),
	}, nil
}

// GetAllSessions returns every session sorted by start time (oldest first).
func (ms *MemoryStore) GetAllSessions() []Session {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := ms.now()
	result := make([]Session, 0, len(ms.sessions))
	for _, s := range ms.sessions {
		result = append(result, ms.sessionView(s, now))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// TotalCost returns the cost of every session, rounded once.
func (ms *MemoryStore) TotalCost() float64 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	costs := make([]pricing.CostBreakdown, 0, len(ms.sessions))
	for _, s := range ms.sessions {
		costs = append(costs, s.metrics.TotalCost)
	}
	return pricing.Aggregate(costs...).Total
}

// TotalTokens returns the token count of every session.
func (ms *MemoryStore) TotalTokens() int64 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var total int64
	for _, s := range ms.sessions {
		total += s.metrics.TotalTokens.Total
	}
	return total
}

// ModelCosts returns the total cost per model across every session.
func (ms *MemoryStore) ModelCosts() map[string]float64 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make(map[string]float64)
	for _, s := range ms.sessions {
		for _, usage := range s.metrics.ModelBreakdown {
			out[usage.Model] += usage.Cost.Total
		}
	}
	return out
}

// sessionView copies the session and derives IsActive. Caller must hold
// ms.mu.
func (ms *MemoryStore) sessionView(s *sessionState, now time.Time) Session {
	view := s.session
	view.IsActive = now.Sub(s.session.LastActivityAt) < ms.activityWindow
	return view
}

// copyTurns copies a session's turns. Caller must hold ms.mu.
func copyTurns(s *sessionState) []TurnRecord {
	out := make([]TurnRecord, len(s.turns))
	for i := range s.turns {
		out[i] = TurnRecord{
			Turn:    s.turns[i].Clone(),
			Metrics: s.turnMetrics[i].Clone(),
		}
	}
	return out
}

// notify runs listeners in registration order. Caller must hold
// ms.writeMu and must not hold ms.mu.
func (ms *MemoryStore) notify(listeners []ChangeListener, c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
