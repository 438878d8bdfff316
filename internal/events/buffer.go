package events

import (
	"slices"
	"sync"
)

// RingBuffer is a fixed-capacity, thread-safe ring buffer of events.
// When the buffer is full, the oldest event is evicted to make room for new entries.
// All methods are safe for concurrent use.
type RingBuffer struct {
	mu    sync.RWMutex
	items []Event
	cap   int
	head  int // index of the oldest element
	count int // number of elements currently stored
}

// NewRingBuffer creates a new RingBuffer with the given capacity.
// Capacity must be at least 1. A buffer with capacity=1 holds exactly 1 event.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		items: make([]Event, capacity),
		cap:   capacity,
	}
}

// Add inserts an event into the buffer. If the buffer is full, the oldest
// event is overwritten.
func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	writePos := (rb.head + rb.count) % rb.cap
	if rb.count == rb.cap {
		rb.items[rb.head] = e
		rb.head = (rb.head + 1) % rb.cap
	} else {
		rb.items[writePos] = e
		rb.count++
	}
}

// ListAll returns all events in chronological order (oldest first).
func (rb *RingBuffer) ListAll() []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.listLocked()
}

// Recent returns up to n of the newest events, oldest first. n <= 0
// returns everything.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	all := rb.listLocked()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// ListBySession returns all events for the given session ID in
// chronological order.
func (rb *RingBuffer) ListBySession(sessionID string) []Event {
	return rb.filter(func(e Event) bool { return e.SessionID() == sessionID })
}

// ListByKind returns all events of the given kind in chronological order.
func (rb *RingBuffer) ListByKind(kind Kind) []Event {
	return rb.filter(func(e Event) bool { return e.Kind() == kind })
}

func (rb *RingBuffer) filter(keep func(Event) bool) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return slices.DeleteFunc(rb.listLocked(), func(e Event) bool { return !keep(e) })
}

// Len returns the number of events currently in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.cap
}

// listLocked returns all events in chronological order.
// Caller must hold at least a read lock.
func (rb *RingBuffer) listLocked() []Event {
	if rb.count == 0 {
		return nil
	}
	result := make([]Event, rb.count)
	for i := range rb.count {
		result[i] = rb.items[(rb.head+i)%rb.cap]
	}
	return result
}
