package queue

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mattjoyce/studiobridge/internal/protocol"
)

func newCall(command string) protocol.ToolCall {
	return protocol.ToolCall{Args: protocol.RunCode{Command: command}, ID: uuid.New()}
}

func TestQueuePushPopFIFO(t *testing.T) {
	t.Parallel()

	q := New()
	var ids []uuid.UUID
	for i := 0; i < 200; i++ {
		c := newCall("print(" + string(rune('a'+i%26)) + ")")
		if err := q.Push(c); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		ids = append(ids, c.ID)
	}
	if q.Len() != 200 {
		t.Fatalf("expected len 200, got %d", q.Len())
	}

	for i, want := range ids {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: queue unexpectedly empty", i)
		}
		if got.ID != want {
			t.Fatalf("Pop %d: expected %s, got %s", i, want, got.ID)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue")
	}
	if q.Len() != 0 {
		t.Fatalf("expected len 0, got %d", q.Len())
	}
}

func TestQueueRejectsDuplicatesAndMissingIDs(t *testing.T) {
	t.Parallel()

	q := New()
	c := newCall("x")
	if err := q.Push(c); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(c); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if err := q.Push(protocol.ToolCall{Args: protocol.RunCode{}}); !errors.Is(err, ErrNoID) {
		t.Fatalf("expected ErrNoID, got %v", err)
	}

	// A popped call may not come back on its own, but the id is free again.
	if _, ok := q.Pop(); !ok {
		t.Fatal("expected a call")
	}
	if q.Contains(c.ID) {
		t.Fatal("popped call still indexed")
	}
}

func TestQueueRemoveKeepsOrder(t *testing.T) {
	t.Parallel()

	q := New()
	a, b, c := newCall("a"), newCall("b"), newCall("c")
	for _, call := range []protocol.ToolCall{a, b, c} {
		if err := q.Push(call); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	if !q.Remove(b.ID) {
		t.Fatal("expected Remove to find b")
	}
	if q.Remove(b.ID) {
		t.Fatal("second Remove should report false")
	}

	first, _ := q.Pop()
	second, _ := q.Pop()
	if first.ID != a.ID || second.ID != c.ID {
		t.Fatalf("unexpected order after remove: %s, %s", first.ID, second.ID)
	}
}
