package delivery

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements MessageStore in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	queues     map[string][]PendingMessage
	maxPending int
}

// NewMemoryStore creates an in-memory store capped at maxPending per identity.
func NewMemoryStore(maxPending int) *MemoryStore {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &MemoryStore{
		queues:     make(map[string][]PendingMessage),
		maxPending: maxPending,
	}
}

// Enqueue implements MessageStore.
func (s *MemoryStore) Enqueue(_ context.Context, msg PendingMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := append(s.queues[msg.Identity], msg)
	evicted := 0
	if len(q) > s.maxPending {
		evicted = len(q) - s.maxPending
		q = append([]PendingMessage(nil), q[evicted:]...)
	}
	s.queues[msg.Identity] = q
	return evicted, nil
}

// List implements MessageStore.
func (s *MemoryStore) List(_ context.Context, identity string) ([]PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[identity]
	out := make([]PendingMessage, len(q))
	copy(out, q)
	return out, nil
}

// Remove implements MessageStore.
func (s *MemoryStore) Remove(_ context.Context, identity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filter(identity, func(m PendingMessage) bool { return m.ID != id })
	return nil
}

// RecordFailure implements MessageStore.
func (s *MemoryStore) RecordFailure(_ context.Context, identity, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[identity]
	for i := range q {
		if q[i].ID != id {
			continue
		}
		q[i].Attempts++
		if q[i].Exhausted() {
			s.filter(identity, func(m PendingMessage) bool { return m.ID != id })
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

// Clear implements MessageStore.
func (s *MemoryStore) Clear(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queues[identity])
	delete(s.queues, identity)
	return n, nil
}

// Purge implements MessageStore.
func (s *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for identity, q := range s.queues {
		before := len(q)
		s.filter(identity, func(m PendingMessage) bool { return !m.EnqueuedAt.Before(cutoff) })
		purged += before - len(s.queues[identity])
	}
	return purged, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// filter keeps messages matching keep; caller holds mu.
func (s *MemoryStore) filter(identity string, keep func(PendingMessage) bool) {
	q := s.queues[identity]
	kept := q[:0]
	for _, m := range q {
		if keep(m) {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		delete(s.queues, identity)
		return
	}
	s.queues[identity] = kept
}
