package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/studiobridge/internal/events"
	"github.com/mattjoyce/studiobridge/internal/log"
	"github.com/mattjoyce/studiobridge/internal/protocol"
	"github.com/mattjoyce/studiobridge/internal/queue"
)

// DefaultPollTimeout bounds a single long poll when Config leaves it unset.
const DefaultPollTimeout = 15 * time.Second

// Config holds dispatcher tunables.
type Config struct {
	PollTimeout time.Duration
}

// Delivery reports what Submit did with a result.
type Delivery int

const (
	// DeliveryDelivered means the waiting caller received the payload.
	DeliveryDelivered Delivery = iota + 1
	// DeliveryDropped means the caller had already gone away.
	DeliveryDropped
)

func (d Delivery) String() string {
	switch d {
	case DeliveryDelivered:
		return "delivered"
	case DeliveryDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type entryState int

const (
	stateWaiting entryState = iota
	stateDelivered
	stateAbandoned
)

// entry is one row of the correlation table.
type entry struct {
	ch      chan string
	state   entryState
	created time.Time
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	QueueDepth   int    `json:"queue_depth"`
	PendingCalls int    `json:"pending_calls"`
	Generation   uint64 `json:"generation"`
	Closed       bool   `json:"closed"`
}

// Dispatcher owns the work queue, the correlation table and the change
// notifier. The zero value is not usable; call New.
type Dispatcher struct {
	mu      sync.Mutex
	queue   *queue.Queue
	pending map[uuid.UUID]*entry
	notify  *notifier
	closed  bool

	pollTimeout time.Duration
	newID       func() uuid.UUID
	hub         *events.Hub
	logger      *slog.Logger
}

// New creates a Dispatcher. hub may be nil.
func New(cfg Config, hub *events.Hub, logger *slog.Logger) *Dispatcher {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Dispatcher{
		queue:       queue.New(),
		pending:     make(map[uuid.UUID]*entry),
		notify:      newNotifier(),
		pollTimeout: cfg.PollTimeout,
		newID:       uuid.New,
		hub:         hub,
		logger:      logger,
	}
}

// PollTimeout returns the bound applied to each Pickup.
func (d *Dispatcher) PollTimeout() time.Duration {
	return d.pollTimeout
}

// Execute queues args for the plugin and blocks until the correlated result
// arrives. There is no internal deadline; the wait ends only when a result
// is delivered, the entry is abandoned (ErrChannelClosed) or ctx ends.
func (d *Dispatcher) Execute(ctx context.Context, args protocol.Arguments) (string, error) {
	if args == nil {
		return "", fmt.Errorf("%w: nil", protocol.ErrUnknownArguments)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	id := d.newID()
	for d.pending[id] != nil || d.queue.Contains(id) {
		id = d.newID()
	}
	call := protocol.ToolCall{Args: args, ID: id}
	if err := d.queue.Push(call); err != nil {
		d.mu.Unlock()
		return "", fmt.Errorf("enqueue tool call: %w", err)
	}
	e := &entry{ch: make(chan string, 1), created: time.Now()}
	d.pending[id] = e
	d.notify.fire()
	depth := d.queue.Len()
	d.mu.Unlock()

	logger := d.logger.With("call_id", id.String())
	logger.Debug("tool call enqueued", "kind", args.Kind(), "queue_depth", depth)
	d.hub.Publish(events.CallEnqueued, map[string]any{
		"call_id":     id.String(),
		"kind":        args.Kind(),
		"queue_depth": depth,
	})

	select {
	case out, ok := <-e.ch:
		d.release(id)
		if !ok {
			logger.Warn("result channel closed without a response")
			return "", ErrChannelClosed
		}
		d.completed(id, e, "ok")
		return out, nil

	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, id)
		dequeued := d.queue.Remove(id)
		d.mu.Unlock()

		// Submit writes under the lock, so anything delivered is already buffered.
		select {
		case out, ok := <-e.ch:
			if ok {
				d.completed(id, e, "ok")
				return out, nil
			}
		default:
		}

		logger.Info("caller gave up waiting", "error", ctx.Err(), "dequeued", dequeued)
		d.hub.Publish(events.CallAbandoned, map[string]any{
			"call_id":  id.String(),
			"reason":   ctx.Err().Error(),
			"dequeued": dequeued,
		})
		return "", ctx.Err()
	}
}

// Pickup returns the oldest queued call, waiting up to the poll timeout for
// one to arrive. It returns ErrPollTimeout when none did, ErrNotifierClosed
// once the dispatcher is closed, or ctx.Err() if ctx ends first.
func (d *Dispatcher) Pickup(ctx context.Context) (protocol.ToolCall, error) {
	timer := time.NewTimer(d.pollTimeout)
	defer timer.Stop()

	for {
		d.mu.Lock()
		if d.notify.closed {
			d.mu.Unlock()
			return protocol.ToolCall{}, ErrNotifierClosed
		}
		if call, ok := d.queue.Pop(); ok {
			depth := d.queue.Len()
			d.mu.Unlock()

			d.logger.Debug("tool call picked up", "call_id", call.ID.String(), "queue_depth", depth)
			d.hub.Publish(events.CallPickedUp, map[string]any{
				"call_id":     call.ID.String(),
				"queue_depth": depth,
			})
			return call, nil
		}
		wake := d.notify.wait()
		d.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return protocol.ToolCall{}, ErrPollTimeout
		case <-ctx.Done():
			return protocol.ToolCall{}, ctx.Err()
		}
	}
}

// Submit hands a plugin result to the caller waiting on res.ID. It never
// removes the correlation entry; the caller does that once it has the value.
func (d *Dispatcher) Submit(res protocol.Result) (Delivery, error) {
	d.mu.Lock()
	e, ok := d.pending[res.ID]
	if !ok || e.state == stateDelivered {
		d.mu.Unlock()
		d.logger.Warn("result for unknown id", "call_id", res.ID.String(), "already_delivered", ok)
		return 0, fmt.Errorf("%w: %s", ErrUnknownID, res.ID)
	}
	if e.state == stateAbandoned {
		d.mu.Unlock()
		d.logger.Warn("result dropped, caller is gone", "call_id", res.ID.String())
		d.hub.Publish(events.ResultDropped, map[string]any{"call_id": res.ID.String()})
		return DeliveryDropped, nil
	}
	e.ch <- res.Response
	e.state = stateDelivered
	d.mu.Unlock()

	d.logger.Debug("result delivered", "call_id", res.ID.String(), "bytes", len(res.Response))
	d.hub.Publish(events.ResultDelivered, map[string]any{
		"call_id": res.ID.String(),
		"bytes":   len(res.Response),
	})
	return DeliveryDelivered, nil
}

// Stats returns queue depth and correlation table size.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		QueueDepth:   d.queue.Len(),
		PendingCalls: len(d.pending),
		Generation:   d.notify.gen,
		Closed:       d.closed,
	}
}

// Close wakes every pending Pickup with ErrNotifierClosed and every waiting
// Execute with ErrChannelClosed. Later Execute calls fail with ErrClosed.
// Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.notify.close()
	abandoned := 0
	for _, e := range d.pending {
		if e.state == stateWaiting {
			close(e.ch)
			e.state = stateAbandoned
			abandoned++
		}
	}
	d.queue = queue.New()
	d.mu.Unlock()

	d.logger.Info("dispatcher closed", "abandoned_calls", abandoned)
	d.hub.Publish(events.DispatcherClosed, map[string]any{"abandoned_calls": abandoned})
}

// abandon closes the result channel for id without a value, as if the
// producing side had gone away. It reports whether a waiting entry existed.
func (d *Dispatcher) abandon(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.pending[id]
	if !ok || e.state != stateWaiting {
		return false
	}
	close(e.ch)
	e.state = stateAbandoned
	d.queue.Remove(id)
	return true
}

// release removes the correlation entry once its caller has resolved.
func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

func (d *Dispatcher) completed(id uuid.UUID, e *entry, status string) {
	elapsed := time.Since(e.created)
	d.logger.Debug("tool call completed", "call_id", id.String(), "duration_ms", elapsed.Milliseconds())
	d.hub.Publish(events.CallCompleted, map[string]any{
		"call_id":     id.String(),
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
	})
}
