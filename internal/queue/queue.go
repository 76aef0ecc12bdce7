package queue

import (
	"github.com/google/uuid"

	"github.com/mattjoyce/studiobridge/internal/protocol"
)

// compactThreshold is how many popped slots may accumulate at the front of
// the backing slice before it is copied down.
const compactThreshold = 64

// Queue is an in-memory FIFO of tool calls waiting for the Studio plugin.
// It is not safe for concurrent use; the dispatcher serializes access.
type Queue struct {
	items []protocol.ToolCall
	head  int
	index map[uuid.UUID]struct{}
}

func New() *Queue {
	return &Queue{index: make(map[uuid.UUID]struct{})}
}

// Push appends call to the tail.
func (q *Queue) Push(call protocol.ToolCall) error {
	if call.ID == uuid.Nil {
		return ErrNoID
	}
	if _, ok := q.index[call.ID]; ok {
		return ErrDuplicateID
	}
	q.items = append(q.items, call)
	q.index[call.ID] = struct{}{}
	return nil
}

// Pop removes and returns the oldest call. ok is false when the queue is empty.
func (q *Queue) Pop() (call protocol.ToolCall, ok bool) {
	if q.Len() == 0 {
		return protocol.ToolCall{}, false
	}
	call = q.items[q.head]
	q.items[q.head] = protocol.ToolCall{}
	q.head++
	delete(q.index, call.ID)
	q.compact()
	return call, true
}

// Remove drops a call that has not been picked up yet. It reports whether
// the call was found.
func (q *Queue) Remove(id uuid.UUID) bool {
	if _, ok := q.index[id]; !ok {
		return false
	}
	for i := q.head; i < len(q.items); i++ {
		if q.items[i].ID != id {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = protocol.ToolCall{}
		q.items = q.items[:len(q.items)-1]
		delete(q.index, id)
		q.compact()
		return true
	}
	return false
}

// Contains reports whether a call with id is waiting.
func (q *Queue) Contains(id uuid.UUID) bool {
	_, ok := q.index[id]
	return ok
}

// Len returns the number of waiting calls.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head < compactThreshold {
		return
	}
	n := copy(q.items, q.items[q.head:])
	clear(q.items[n:])
	q.items = q.items[:n]
	q.head = 0
}
