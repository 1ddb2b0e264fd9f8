package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// White-box tests: delivery is driven by calling dispatchDue directly
// with a controlled clock, so no test ever sleeps.

func newTestBroker() (*DurableBroker, *MemoryStore, *time.Time) {
	store := NewMemoryStore()
	broker := NewDurableBroker(store)
	now := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
	broker.now = func() time.Time { return now }
	return broker, store, &now
}

func TestBroker_DeliversNoEarlierThanDelay(t *testing.T) {
	broker, store, now := newTestBroker()
	ctx := context.Background()

	var delivered []Message
	broker.Subscribe(QueueGenerate, func(_ context.Context, msg Message) error {
		delivered = append(delivered, msg)
		return nil
	})

	msg := NewMessage(QueueGenerate, "loan-1", nil)
	require.NoError(t, broker.Publish(ctx, QueueGenerate, msg, 10*time.Second))

	// Before the delivery time: nothing fires.
	broker.dispatchDue()
	assert.Empty(t, delivered)
	assert.Equal(t, 1, store.Pending())

	// At the delivery time: fires and is acknowledged.
	*now = now.Add(10 * time.Second)
	broker.dispatchDue()
	require.Len(t, delivered, 1)
	assert.Equal(t, "loan-1", delivered[0].LoanID)
	assert.Equal(t, 0, store.Pending())
}

func TestBroker_ClampsNonPositiveDelay(t *testing.T) {
	broker, store, now := newTestBroker()
	ctx := context.Background()

	msg := NewMessage(QueueGenerate, "loan-1", nil)
	require.NoError(t, broker.Publish(ctx, QueueGenerate, msg, -5*time.Minute))

	due, err := store.Due(ctx, *now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "a past instant must be pushed forward, not delivered immediately")

	due, err = store.Due(ctx, now.Add(minimalDelay), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestBroker_RetriesWithBackoffThenDrops(t *testing.T) {
	broker, store, now := newTestBroker()
	ctx := context.Background()

	attempts := 0
	broker.Subscribe(QueueGenerate, func(_ context.Context, _ Message) error {
		attempts++
		return errors.New("handler failure")
	})

	msg := NewMessage(QueueGenerate, "loan-1", nil)
	require.NoError(t, broker.Publish(ctx, QueueGenerate, msg, time.Second))

	// Attempt 1 fails: rescheduled at now + 1x2s.
	*now = now.Add(time.Second)
	broker.dispatchDue()
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, store.Pending())

	// Attempt 2 fails: rescheduled at now + 2x2s.
	*now = now.Add(2 * time.Second)
	broker.dispatchDue()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, store.Pending())

	// Not yet due: nothing happens.
	*now = now.Add(time.Second)
	broker.dispatchDue()
	assert.Equal(t, 2, attempts)

	// Attempt 3 fails: the message is dropped, not retried forever.
	*now = now.Add(3 * time.Second)
	broker.dispatchDue()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, store.Pending())
}

func TestBroker_UnsubscribedQueueStaysQueued(t *testing.T) {
	broker, store, now := newTestBroker()
	ctx := context.Background()

	msg := NewMessage(QueueOverdue, "loan-1", nil)
	require.NoError(t, broker.Publish(ctx, QueueOverdue, msg, time.Second))

	*now = now.Add(time.Minute)
	broker.dispatchDue()
	assert.Equal(t, 1, store.Pending(), "message without a consumer is kept for the next poll")
}

func TestBroker_ReadyLifecycle(t *testing.T) {
	broker, _, _ := newTestBroker()

	assert.False(t, broker.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, broker.AwaitReady(ctx), "AwaitReady must block until Start")

	require.NoError(t, broker.Start())
	defer broker.Stop()

	assert.True(t, broker.IsReady())
	assert.NoError(t, broker.AwaitReady(context.Background()))

	// Start is idempotent.
	require.NoError(t, broker.Start())
}

func TestBroker_RestartAfterStop(t *testing.T) {
	broker, _, _ := newTestBroker()

	require.NoError(t, broker.Start())
	assert.True(t, broker.IsReady())

	broker.Stop()
	assert.False(t, broker.IsReady(), "a stopped broker is not ready")

	// The lifecycle must survive a full stop/start cycle.
	require.NoError(t, broker.Start())
	assert.True(t, broker.IsReady())
	assert.NoError(t, broker.AwaitReady(context.Background()))
	broker.Stop()
}

func TestBroker_MessageCarriesRemainingHint(t *testing.T) {
	remaining := 4
	msg := NewMessage(QueueGenerate, "loan-1", &remaining)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, QueueGenerate, msg.Queue)
	require.NotNil(t, msg.RemainingInstallments)
	assert.Equal(t, 4, *msg.RemainingInstallments)
}
