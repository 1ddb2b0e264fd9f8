package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// DURABLE BROKER - Store-backed delayed delivery
// =============================================================================

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 50

	// minimalDelay is the clamp applied when a computed delivery instant
	// has already passed.
	minimalDelay = 1 * time.Second

	maxAttempts = 3
	backoffStep = 2 * time.Second

	connectAttempts = 5
	connectDelay    = 5 * time.Second
)

// DurableBroker delivers persisted messages no earlier than their
// delivery time. It owns the connection lifecycle: Start runs a bounded
// connect retry loop against the store and signals readiness through an
// explicit channel instead of a shared mutable connection.
type DurableBroker struct {
	store MessageStore

	PollInterval time.Duration
	BatchSize    int

	handlers map[string]Handler
	ready    chan struct{}
	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool

	now func() time.Time
}

// NewDurableBroker creates a broker over the given message store.
func NewDurableBroker(store MessageStore) *DurableBroker {
	return &DurableBroker{
		store:        store,
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		handlers:     make(map[string]Handler),
		ready:        make(chan struct{}),
		stop:         make(chan struct{}),
		now:          time.Now,
	}
}

// Publish persists msg for delivery after delay. A non-positive delay is
// clamped forward to now + minimalDelay.
func (b *DurableBroker) Publish(ctx context.Context, queue string, msg Message, delay time.Duration) error {
	if delay <= 0 {
		delay = minimalDelay
	}
	msg.Queue = queue
	msg.DeliverAt = b.now().Add(delay)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.now()
	}
	if err := b.store.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue message for queue %s: %w", queue, err)
	}
	return nil
}

// Subscribe registers the consumer for a queue. One logical consumer per
// queue; a second call replaces the first.
func (b *DurableBroker) Subscribe(queue string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queue] = h
}

// Start connects to the store with bounded retry and begins polling.
func (b *DurableBroker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	if err := b.connect(); err != nil {
		return err
	}

	b.ticker = time.NewTicker(b.PollInterval)
	b.wg.Add(1)
	go b.run()

	b.started = true
	close(b.ready)
	log.Printf("[Broker] Started, polling every %v", b.PollInterval)
	return nil
}

// connect pings the store up to connectAttempts times, connectDelay apart.
func (b *DurableBroker) connect() error {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), connectDelay)
		lastErr = b.store.Ping(ctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("[Broker] Connect attempt %d/%d failed: %v", attempt, connectAttempts, lastErr)
		if attempt < connectAttempts {
			time.Sleep(connectDelay)
		}
	}
	return fmt.Errorf("broker could not connect after %d attempts: %w", connectAttempts, lastErr)
}

// Stop halts dispatching. Messages not yet delivered stay queued.
func (b *DurableBroker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}
	b.ticker.Stop()
	close(b.stop)
	b.wg.Wait()
	b.started = false

	// Fresh channels so the broker can be started again: the old ready
	// channel is closed and the old stop channel is spent.
	b.stop = make(chan struct{})
	b.ready = make(chan struct{})
	log.Println("[Broker] Stopped")
}

// readyChan guards the ready channel, which Stop replaces.
func (b *DurableBroker) readyChan() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// IsReady reports whether Start has completed.
func (b *DurableBroker) IsReady() bool {
	select {
	case <-b.readyChan():
		return true
	default:
		return false
	}
}

// AwaitReady blocks until Start completes or ctx is done.
func (b *DurableBroker) AwaitReady(ctx context.Context) error {
	select {
	case <-b.readyChan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *DurableBroker) run() {
	defer b.wg.Done()

	// Dispatch immediately on start, then on every tick.
	b.dispatchDue()

	for {
		select {
		case <-b.ticker.C:
			b.dispatchDue()
		case <-b.stop:
			return
		}
	}
}

// dispatchDue delivers every message whose delivery time has passed.
func (b *DurableBroker) dispatchDue() {
	ctx := context.Background()

	msgs, err := b.store.Due(ctx, b.now(), b.BatchSize)
	if err != nil {
		log.Printf("[Broker] Error loading due messages: %v", err)
		return
	}

	for _, msg := range msgs {
		b.deliver(ctx, msg)
	}
}

func (b *DurableBroker) deliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	handler, ok := b.handlers[msg.Queue]
	b.mu.Unlock()

	if !ok {
		// No consumer yet; leave the message queued for the next poll.
		return
	}

	err := handler(ctx, msg)
	if err == nil {
		// Acknowledge only after successful processing.
		if ackErr := b.store.Ack(ctx, msg.ID); ackErr != nil {
			log.Printf("[Broker] Failed to ack message %s: %v", msg.ID, ackErr)
		}
		return
	}

	attempts := msg.Attempts + 1
	if attempts >= maxAttempts {
		// No dead-letter queue in this design: exhausted messages are
		// dropped with a logged failure.
		log.Printf("[Broker] Dropping message %s (queue %s, loan %s) after %d attempts: %v",
			msg.ID, msg.Queue, msg.LoanID, attempts, err)
		if ackErr := b.store.Ack(ctx, msg.ID); ackErr != nil {
			log.Printf("[Broker] Failed to drop message %s: %v", msg.ID, ackErr)
		}
		return
	}

	// Exponential backoff: attempt x 2s.
	backoff := time.Duration(attempts) * backoffStep
	log.Printf("[Broker] Message %s failed (attempt %d/%d), retrying in %v: %v",
		msg.ID, attempts, maxAttempts, backoff, err)
	if rErr := b.store.Reschedule(ctx, msg.ID, b.now().Add(backoff), attempts); rErr != nil {
		log.Printf("[Broker] Failed to reschedule message %s: %v", msg.ID, rErr)
	}
}
