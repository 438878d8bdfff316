package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/barkain/ironhide/internal/events"
	"github.com/barkain/ironhide/internal/metrics"
	"github.com/barkain/ironhide/internal/pricing"
	"github.com/barkain/ironhide/internal/state"
)

var baseTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func makeTurn(id string, at time.Time) metrics.Turn {
	return metrics.Turn{
		ID:         id,
		Timestamp:  at,
		DurationMs: 500,
		Model:      "claude-sonnet-4",
		Usage:      pricing.TokenUsage{Input: 1000, Output: 200},
	}
}

// newWiredHub returns a store and a hub listening to it.
func newWiredHub(cfg Config) (*state.MemoryStore, *Hub) {
	store := state.NewMemoryStore()
	hub := New(store, cfg)
	store.OnChange(hub.HandleChange)
	return store, hub
}

// drain collects everything currently queued on sub without blocking.
func drain(sub *Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(evts []events.Event) []events.Kind {
	out := make([]events.Kind, len(evts))
	for i, e := range evts {
		out[i] = e.Kind()
	}
	return out
}

func TestHub_GlobalSubscriberSeesTurnEvents(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: 0, SubscriberBuffer: 16})

	sub, err := hub.Subscribe(Global())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	store.RecordTurn("sess-001", makeTurn("t1", baseTime), metrics.StatusComplete)

	got := drain(sub)
	want := []events.Kind{events.KindSession, events.KindTurn, events.KindMetrics}
	if fmt.Sprint(kinds(got)) != fmt.Sprint(want) {
		t.Fatalf("expected kinds %v, got %v", want, kinds(got))
	}

	te := got[1].(events.TurnEvent)
	if te.Turn.ID != "t1" || te.Type != metrics.StatusComplete {
		t.Errorf("unexpected turn event: id=%q type=%q", te.Turn.ID, te.Type)
	}
	me := got[2].(events.MetricsEvent)
	if me.SessionMetrics.TotalTurns != 1 {
		t.Errorf("expected aggregate with 1 turn, got %d", me.SessionMetrics.TotalTurns)
	}
}

func TestHub_SessionSubscriptionStartsWithSnapshot(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: 0, SubscriberBuffer: 16})

	store.RecordTurn("sess-001", makeTurn("t1", baseTime), metrics.StatusComplete)
	store.RecordTurn("sess-001", makeTurn("t2", baseTime.Add(time.Second)), metrics.StatusComplete)

	sub, err := hub.Subscribe(ForSession("sess-001"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	store.RecordTurn("sess-002", makeTurn("other", baseTime), metrics.StatusComplete)
	store.RecordTurn("sess-001", makeTurn("t3", baseTime.Add(2*time.Second)), metrics.StatusNew)

	got := drain(sub)
	if len(got) == 0 {
		t.Fatal("expected at least a snapshot")
	}
	snap, ok := got[0].(events.SessionEvent)
	if !ok || snap.Type != events.SessionSnapshot {
		t.Fatalf("expected first event to be a snapshot, got %#v", got[0])
	}
	if len(snap.Turns) != 2 {
		t.Errorf("expected 2 turns in snapshot, got %d", len(snap.Turns))
	}
	if snap.Metrics == nil || snap.Metrics.TotalTurns != 2 {
		t.Errorf("expected snapshot aggregate with 2 turns, got %+v", snap.Metrics)
	}

	for _, e := range got[1:] {
		if e.SessionID() != "sess-001" {
			t.Errorf("session subscriber received event for %q", e.SessionID())
		}
	}
	var sawT3 bool
	for _, e := range got {
		if te, ok := e.(events.TurnEvent); ok && te.Turn.ID == "t3" {
			sawT3 = true
		}
	}
	if !sawT3 {
		t.Error("expected live turn event for t3")
	}
}

func TestHub_SubscribeUnknownSessionGetsEmptySnapshot(t *testing.T) {
	_, hub := newWiredHub(Config{})

	sub, err := hub.Subscribe(ForSession("ghost"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("expected exactly one snapshot, got %d events", len(got))
	}
	snap := got[0].(events.SessionEvent)
	if snap.Session.ID != "ghost" {
		t.Errorf("expected snapshot for 'ghost', got %q", snap.Session.ID)
	}
	if len(snap.Turns) != 0 || snap.Metrics == nil || snap.Metrics.TotalTurns != 0 {
		t.Errorf("expected empty snapshot, got turns=%d metrics=%+v", len(snap.Turns), snap.Metrics)
	}
}

func TestHub_SlowSubscriberDropsOldest(t *testing.T) {
	_, hub := newWiredHub(Config{SubscriberBuffer: 2})

	sub, err := hub.Subscribe(Global())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for i := range 5 {
		hub.Publish(events.ErrorEvent{Code: "test", Message: fmt.Sprintf("m%d", i), Timestamp: baseTime})
	}

	if sub.Dropped() != 3 {
		t.Errorf("expected 3 dropped events, got %d", sub.Dropped())
	}
	got := drain(sub)
	if len(got) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(got))
	}
	if m := got[0].(events.ErrorEvent).Message; m != "m3" {
		t.Errorf("expected oldest surviving event m3, got %s", m)
	}
	if m := got[1].(events.ErrorEvent).Message; m != "m4" {
		t.Errorf("expected newest event m4, got %s", m)
	}
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	_, hub := newWiredHub(Config{SubscriberBuffer: 1})

	slow, _ := hub.Subscribe(Global())
	defer slow.Unsubscribe()
	fast, _ := hub.Subscribe(Global())
	defer fast.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			hub.Heartbeat()
			<-fast.Events()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
	if slow.Dropped() != 99 {
		t.Errorf("expected slow subscriber to drop 99 events, got %d", slow.Dropped())
	}
	if fast.Dropped() != 0 {
		t.Errorf("expected fast subscriber to drop nothing, got %d", fast.Dropped())
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	_, hub := newWiredHub(Config{})

	sub, _ := hub.Subscribe(Global())
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	if hub.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("expected events channel to be closed")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	hub.Heartbeat()
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	_, hub := newWiredHub(Config{})

	sub, _ := hub.Subscribe(Global())
	hub.Close()
	hub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("expected events channel to be closed after Close")
	}
	sub.Unsubscribe()

	if _, err := hub.Subscribe(Global()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHub_FlushMetricsCoalesces(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: time.Hour, SubscriberBuffer: 32})

	sub, _ := hub.Subscribe(Global())
	defer sub.Unsubscribe()

	for i := range 3 {
		store.RecordTurn("sess-001", makeTurn(fmt.Sprintf("t%d", i), baseTime), metrics.StatusComplete)
	}
	for _, e := range drain(sub) {
		if e.Kind() == events.KindMetrics {
			t.Fatal("expected no metrics event before flush")
		}
	}

	hub.FlushMetrics()
	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("expected exactly one metrics event, got %d", len(got))
	}
	me := got[0].(events.MetricsEvent)
	if me.Session != "sess-001" || me.SessionMetrics.TotalTurns != 3 {
		t.Errorf("unexpected aggregate: session=%q turns=%d", me.Session, me.SessionMetrics.TotalTurns)
	}

	hub.FlushMetrics()
	if n := len(drain(sub)); n != 0 {
		t.Errorf("expected nothing on a second flush, got %d events", n)
	}
}

func TestHub_RemovalNotifiesSessionSubscribers(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: 0})

	store.RecordTurn("sess-001", makeTurn("t1", baseTime), metrics.StatusComplete)
	sub, _ := hub.Subscribe(ForSession("sess-001"))
	defer sub.Unsubscribe()
	drain(sub)

	if err := store.RemoveSession("sess-001"); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}

	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("expected one event after removal, got %d", len(got))
	}
	ee, ok := got[0].(events.ErrorEvent)
	if !ok || ee.Code != "session_removed" {
		t.Errorf("expected session_removed error event, got %#v", got[0])
	}
}

func TestHub_SnapshotPlusLiveCoversEveryTurnOnce(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: time.Hour, SubscriberBuffer: 1024})

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			store.RecordTurn("sess-001", makeTurn(fmt.Sprintf("t%03d", i), baseTime), metrics.StatusComplete)
		}
	}()

	// Subscribe while writes are in flight.
	time.Sleep(time.Millisecond)
	sub, err := hub.Subscribe(ForSession("sess-001"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	wg.Wait()

	seen := make(map[string]int)
	for _, e := range drain(sub) {
		switch ev := e.(type) {
		case events.SessionEvent:
			for _, rec := range ev.Turns {
				seen[rec.Turn.ID]++
			}
		case events.TurnEvent:
			seen[ev.Turn.ID]++
		}
	}
	if len(seen) != total {
		t.Errorf("expected snapshot plus live events to cover %d turns, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("expected turn %s delivered once, got %d", id, n)
		}
	}
	if sub.Dropped() != 0 {
		t.Errorf("expected no drops with a large buffer, got %d", sub.Dropped())
	}
}

func TestHub_SubscribeDuringNotifyDoesNotRepeatTurn(t *testing.T) {
	store := state.NewMemoryStore()
	hub := New(store, Config{MetricsInterval: time.Hour})

	// A slow listener ahead of the hub holds t6's notification open.
	entered := make(chan struct{})
	release := make(chan struct{})
	store.OnChange(func(c state.Change) {
		if c.Kind == state.ChangeTurn && c.Result.Turn.ID == "t6" {
			close(entered)
			<-release
		}
	})
	store.OnChange(hub.HandleChange)

	for i := 1; i <= 5; i++ {
		store.RecordTurn("sess-001", makeTurn(fmt.Sprintf("t%d", i), baseTime), metrics.StatusComplete)
	}

	recorded := make(chan struct{})
	go func() {
		store.RecordTurn("sess-001", makeTurn("t6", baseTime), metrics.StatusComplete)
		close(recorded)
	}()
	<-entered

	subscribed := make(chan *Subscription)
	go func() {
		sub, err := hub.Subscribe(ForSession("sess-001"))
		if err != nil {
			t.Errorf("Subscribe: %v", err)
		}
		subscribed <- sub
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-recorded
	sub := <-subscribed
	if sub == nil {
		return
	}
	defer sub.Unsubscribe()

	count := 0
	for _, e := range drain(sub) {
		switch ev := e.(type) {
		case events.SessionEvent:
			for _, rec := range ev.Turns {
				if rec.Turn.ID == "t6" {
					count++
				}
			}
		case events.TurnEvent:
			if ev.Turn.ID == "t6" {
				count++
			}
		}
	}
	if count != 1 {
		t.Errorf("expected t6 delivered once, got %d", count)
	}
}

func TestHub_RecentKeepsHistoryWithoutHeartbeats(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: 0, HistorySize: 10})

	store.RecordTurn("sess-001", makeTurn("t1", baseTime), metrics.StatusComplete)
	hub.Heartbeat()

	recent := hub.Recent(10)
	for _, e := range recent {
		if e.Kind() == events.KindHeartbeat {
			t.Error("heartbeats should not be kept in history")
		}
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 events in history (session, turn, metrics), got %d", len(recent))
	}
}

func TestHub_RecentMatching(t *testing.T) {
	store, hub := newWiredHub(Config{MetricsInterval: 0, HistorySize: 20})

	store.RecordTurn("sess-001", makeTurn("t1", baseTime), metrics.StatusComplete)
	store.RecordTurn("sess-001", makeTurn("t2", baseTime.Add(time.Second)), metrics.StatusComplete)
	store.RecordTurn("sess-002", makeTurn("t3", baseTime.Add(2*time.Second)), metrics.StatusComplete)

	turns := hub.RecentMatching("", events.KindTurn, 0)
	if len(turns) != 3 {
		t.Fatalf("expected 3 turn events, got %d", len(turns))
	}

	mine := hub.RecentMatching("sess-001", events.KindTurn, 0)
	if len(mine) != 2 {
		t.Fatalf("expected 2 turn events for sess-001, got %d", len(mine))
	}
	for _, e := range mine {
		if e.SessionID() != "sess-001" || e.Kind() != events.KindTurn {
			t.Errorf("unexpected event %s for %s", e.Kind(), e.SessionID())
		}
	}

	last := hub.RecentMatching("sess-001", events.KindTurn, 1)
	if len(last) != 1 || last[0].(events.TurnEvent).Turn.ID != "t2" {
		t.Errorf("expected only the newest turn t2, got %+v", last)
	}

	if got := hub.RecentMatching("", "", 2); len(got) != 2 {
		t.Errorf("expected 2 events without filters, got %d", len(got))
	}
}
