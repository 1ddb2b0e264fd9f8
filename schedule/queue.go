/*
Package schedule provides delayed message delivery for the installment
lifecycle workers.

PURPOSE:
  The generator and the overdue worker are driven by time: "create the
  next installment shortly before it is due", "re-check lateness every
  minute". This package turns those needs into a small queue abstraction:
  publish a message with a delay, and it is delivered to the queue's
  consumer no earlier than that delay, at least once.

DESIGN:
  - Broker is the abstraction workers depend on. It exposes an explicit
    readiness signal (IsReady/AwaitReady) so consumers never race the
    connection.
  - DurableBroker (broker.go) persists messages through a MessageStore
    and polls for due ones with a ticker. The store is the durability
    boundary; the broker itself holds no authoritative state.
  - Delivery is at-least-once: a message is acknowledged (deleted) only
    after its handler returns nil. Handler failures are retried with
    bounded exponential backoff and then dropped with a logged failure.

ORDERING:
  Messages for the same loan are FIFO-ish by delivery time but not
  strictly ordered; handlers must tolerate races, which is why sequence
  numbers are enforced at the store level instead.
*/
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue names used by the lending workers.
const (
	QueueGenerate = "installments.generate"
	QueueOverdue  = "installments.overdue"
)

// Message is one delayed trigger. Payload fields are deliberately small:
// the store is the source of truth, the queue only carries identity.
type Message struct {
	ID     string
	Queue  string
	LoanID string
	// RemainingInstallments is a generation hint for fixed-fees loans.
	// Nil for overdue triggers and interest-only loans.
	RemainingInstallments *int

	Attempts  int
	DeliverAt time.Time
	CreatedAt time.Time
}

// NewMessage builds a trigger for the given queue and loan.
func NewMessage(queue, loanID string, remaining *int) Message {
	return Message{
		ID:                    uuid.New().String(),
		Queue:                 queue,
		LoanID:                loanID,
		RemainingInstallments: remaining,
		CreatedAt:             time.Now(),
	}
}

// Handler processes one delivered message. Returning an error requeues
// the message for retry until attempts are exhausted.
type Handler func(ctx context.Context, msg Message) error

// Broker is the delayed-delivery capability the workers depend on.
// Implementations must guarantee delivery no earlier than the requested
// delay, at least once, per durable queue.
type Broker interface {
	// Publish enqueues msg for delivery after delay. Non-positive delays
	// are clamped to a minimal positive delay so ordering guarantees of
	// already-queued messages are not violated.
	Publish(ctx context.Context, queue string, msg Message, delay time.Duration) error

	// Subscribe registers the single logical consumer for a queue.
	// Must be called before Start.
	Subscribe(queue string, h Handler)

	// Start connects to the backing store (bounded retry) and begins
	// dispatching due messages.
	Start() error

	// Stop halts dispatching. Undelivered messages stay queued.
	Stop()

	// IsReady reports whether the broker is connected and dispatching.
	IsReady() bool

	// AwaitReady blocks until the broker is ready or ctx is done, so
	// dependent workers do not start consuming before a channel exists.
	AwaitReady(ctx context.Context) error
}

// MessageStore is the durability boundary behind DurableBroker.
type MessageStore interface {
	// Enqueue persists a message for future delivery.
	Enqueue(ctx context.Context, msg Message) error

	// Due returns up to limit messages with DeliverAt <= now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Message, error)

	// Ack removes a delivered message. Called only after the handler
	// succeeded, or when retries are exhausted.
	Ack(ctx context.Context, id string) error

	// Reschedule pushes a failed message into the future with an updated
	// attempt counter.
	Reschedule(ctx context.Context, id string, deliverAt time.Time, attempts int) error

	// Ping verifies the store is reachable. Used by the connect loop.
	Ping(ctx context.Context) error
}
