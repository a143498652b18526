/*
events.go - In-process domain event bus

PURPOSE:
  A bounded multi-producer queue of domain events drained by a
  background worker. The engine publishes a TransactionProcessed event
  after every request (success or failure); consumers receive it
  at-least-once, after the request has already returned.

CONTRACT:
  - Publish never blocks the caller: under overload the event is dropped
    and counted, never queued unboundedly
  - Per-event handler errors are logged and skipped, never fatal
  - Ordering across events is not guaranteed; consumers must not depend
    on FIFO

SEE ALSO:
  - engine.go: The producer
  - cmd/server: Runs the drain loop and registers consumers
*/
package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// EVENTS
// =============================================================================

const EventTransactionProcessed = "transaction.processed"

// Event is a domain event. Events carry their own id and timestamp.
type Event struct {
	ID            string
	Type          string
	TransactionID TransactionID
	AccountID     AccountID
	Operation     OperationType
	Amount        Money
	Status        TransactionStatus
	Error         string
	OccurredAt    time.Time
}

// Handler consumes one event. Returning an error logs and skips the event.
type Handler func(ctx context.Context, ev Event) error

// =============================================================================
// EVENT BUS - Bounded, non-blocking publish
// =============================================================================

type EventBus struct {
	ch      chan Event
	log     *zap.Logger
	dropped atomic.Int64
	closing sync.Once
	done    chan struct{}

	mu       sync.RWMutex
	handlers []Handler
}

// NewEventBus creates a bus with the given buffer size.
func NewEventBus(buffer int, log *zap.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{
		ch:   make(chan Event, buffer),
		log:  log,
		done: make(chan struct{}),
	}
}

// Subscribe registers a handler. Handlers run sequentially in the drain
// loop; a slow handler delays later events but never the publishers.
func (b *EventBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event without blocking. Under overload the event
// is dropped with a counter and a log line; after shutdown it returns
// ErrBusClosed.
func (b *EventBus) Publish(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	select {
	case b.ch <- ev:
		return nil
	default:
		n := b.dropped.Add(1)
		b.log.Warn("event bus full, dropping event",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Int64("dropped_total", n))
		return nil
	}
}

// Dropped returns the number of events dropped under overload.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Run drains the queue until ctx is cancelled, then drains whatever is
// already buffered and returns. Call from a dedicated goroutine.
func (b *EventBus) Run(ctx context.Context) {
	defer b.closing.Do(func() { close(b.done) })

	for {
		select {
		case <-ctx.Done():
			b.closing.Do(func() { close(b.done) })
			// Best-effort drain of the buffered backlog.
			for {
				select {
				case ev := <-b.ch:
					b.dispatch(context.Background(), ev)
				default:
					return
				}
			}
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *EventBus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.log.Error("event handler failed",
				zap.String("event_id", ev.ID),
				zap.String("type", ev.Type),
				zap.Error(err))
		}
	}
}

// AuditHandler returns a handler that logs every processed transaction.
// Registered by default in cmd/server so no event is lost silently.
func AuditHandler(log *zap.Logger) Handler {
	return func(_ context.Context, ev Event) error {
		log.Info("transaction processed",
			zap.String("event_id", ev.ID),
			zap.String("transaction_id", string(ev.TransactionID)),
			zap.String("account_id", string(ev.AccountID)),
			zap.String("operation", string(ev.Operation)),
			zap.String("amount", ev.Amount.String()),
			zap.String("status", string(ev.Status)),
			zap.String("error", ev.Error))
		return nil
	}
}
