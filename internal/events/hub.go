package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher and the orchestrator.
const (
	CallEnqueued     = "call.enqueued"
	CallPickedUp     = "call.picked_up"
	CallCompleted    = "call.completed"
	CallAbandoned    = "call.abandoned"
	ResultDelivered  = "result.delivered"
	ResultDropped    = "result.dropped"
	PromptReceived   = "prompt.received"
	PromptGenerated  = "prompt.generated"
	PromptCompleted  = "prompt.completed"
	PromptFailed     = "prompt.failed"
	DispatcherClosed = "dispatcher.closed"
)

const (
	defaultBacklog   = 256
	subscriberBuffer = 128
)

// Event is one published fact about a call or a prompt. IDs increase by one
// per publish and are used as SSE event ids.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	ch     chan Event
	prefix string
}

// Hub fans events out to live subscribers and keeps the most recent ones in
// a fixed backlog so a reconnecting monitor can catch up with Last-Event-ID.
// A nil *Hub is valid and drops everything published to it.
type Hub struct {
	seq     atomic.Int64
	dropped atomic.Uint64

	mu      sync.Mutex
	backlog []Event
	next    int
	full    bool
	subs    map[int]subscriber
	subSeq  int
	closed  bool
}

// NewHub returns a hub that retains the last backlog events.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, backlog),
		subs:    make(map[int]subscriber),
	}
}

// Publish records an event and offers it to every matching subscriber.
// Subscribers whose buffer is full miss the event; see Dropped.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.seq.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.remember(ev)
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !strings.HasPrefix(ev.Type, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a live subscriber for event types starting with
// prefix; an empty prefix matches everything. The returned cancel func is
// idempotent and closes the channel. After Close the channel comes back
// already closed.
func (h *Hub) Subscribe(prefix string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.subSeq
	h.subSeq++
	h.subs[id] = subscriber{ch: ch, prefix: prefix}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel
}

// Close ends every live subscription. Events published afterwards are still
// kept in the backlog.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// SnapshotSince returns retained events with ID > lastID whose type starts
// with prefix, oldest first.
func (h *Hub) SnapshotSince(lastID int64, prefix string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []Event
	if h.full {
		ordered = append(ordered, h.backlog[h.next:]...)
	}
	ordered = append(ordered, h.backlog[:h.next]...)

	out := ordered[:0]
	for _, ev := range ordered {
		if ev.ID > lastID && strings.HasPrefix(ev.Type, prefix) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	h.backlog[h.next] = ev
	h.next++
	if h.next == len(h.backlog) {
		h.next = 0
		h.full = true
	}
}
