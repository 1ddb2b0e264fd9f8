package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// MEMORY MESSAGE STORE - For tests and development
// =============================================================================

// MemoryStore is an in-memory MessageStore. The production store lives in
// store/sqlite and shares the relational database with the entities.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]Message)}
}

func (s *MemoryStore) Enqueue(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Message
	for _, msg := range s.messages {
		if !msg.DeliverAt.After(now) {
			due = append(due, msg)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DeliverAt.Before(due[j].DeliverAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Ack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Reschedule(_ context.Context, id string, deliverAt time.Time, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil
	}
	msg.DeliverAt = deliverAt
	msg.Attempts = attempts
	s.messages[id] = msg
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Pending returns the number of queued messages. Test helper.
func (s *MemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
