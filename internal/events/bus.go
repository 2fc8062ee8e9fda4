package events

import (
	"sync"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeStateChanged       Type = "state_changed"
	TypeIterationCompleted Type = "iteration_completed"
	TypeDiagnostic         Type = "diagnostic"
	TypeSucceeded          Type = "succeeded"
	TypeFailed             Type = "failed"
)

// Iteration summarizes one correction pass for observers.
type Iteration struct {
	Index             int    `json:"index"`
	OffsetMs          *int64 `json:"offset_ms,omitempty"`
	AppliedShiftMs    int64  `json:"applied_shift_ms"`
	CumulativeShiftMs int64  `json:"cumulative_shift_ms"`
}

// Event is one notification published for a session. Sequence numbers are
// monotonically increasing per session so late joiners can order and
// deduplicate.
type Event struct {
	SessionID string     `json:"session_id"`
	Sequence  uint64     `json:"seq"`
	Timestamp time.Time  `json:"ts"`
	Type      Type       `json:"type"`
	Status    string     `json:"status,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	Message   string     `json:"message,omitempty"`
	Iteration *Iteration `json:"iteration,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Bus is an in-memory publish/subscribe broadcaster keyed by session ID.
type Bus struct {
	mu          sync.Mutex
	buffer      int
	nextSeq     map[string]uint64
	subscribers map[string][]*subscriber
}

// NewBus constructs a Bus whose subscribers buffer up to capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		buffer:      capacity,
		nextSeq:     make(map[string]uint64),
		subscribers: make(map[string][]*subscriber),
	}
}

// Publish stamps the event with its sequence number and timestamp, then
// delivers it to every subscriber of the session without blocking. A
// subscriber whose buffer is full is closed and removed.
func (b *Bus) Publish(evt Event) {
	if b == nil || evt.SessionID == "" {
		return
	}

	b.mu.Lock()
	b.nextSeq[evt.SessionID]++
	evt.Sequence = b.nextSeq[evt.SessionID]
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	subs := b.subscribers[evt.SessionID]
	kept := subs[:0]
	var dropped []*subscriber
	for _, sub := range subs {
		select {
		case sub.ch <- evt:
			kept = append(kept, sub)
		default:
			dropped = append(dropped, sub)
		}
	}
	if len(dropped) > 0 {
		b.subscribers[evt.SessionID] = append([]*subscriber(nil), kept...)
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		close(sub.ch)
	}
}

// Subscribe registers an observer for one session's events. The returned
// cancel function must be called when the observer goes away; it is safe to
// call after the bus already dropped the subscriber.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	b.subscribers[sessionID] = append(b.subscribers[sessionID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		subs := b.subscribers[sessionID]
		removed := false
		for i, candidate := range subs {
			if candidate == sub {
				b.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
				removed = true
				break
			}
		}
		if len(b.subscribers[sessionID]) == 0 {
			delete(b.subscribers, sessionID)
		}
		b.mu.Unlock()
		if removed {
			close(sub.ch)
		}
	}

	return sub.ch, cancel
}

// SubscriberCount reports the number of active observers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[sessionID])
}
