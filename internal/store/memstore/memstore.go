// Package memstore implements the store contract with a mutex-guarded map.
// It is the default backend and the test double for the Redis backend.
package memstore

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value    []byte
	deadline time.Time
}

// Store is an in-memory TTL key-value store. Expired entries are removed
// lazily on read rather than by a background sweep.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New constructs an empty in-memory store.
func New() *Store {
	return NewWithNow(time.Now)
}

// NewWithNow constructs a store with an injectable clock for TTL tests.
func NewWithNow(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Set replaces the value under key and arms its TTL.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	var deadline time.Time
	if ttl > 0 {
		deadline = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: stored, deadline: deadline}
	return nil
}

// Get returns the live value under key, purging it when its TTL elapsed.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.deadline.IsZero() && !s.now().Before(e.deadline) {
		delete(s.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Delete removes key; absent keys are a no-op.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len reports the number of stored entries, counting not-yet-purged
// expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
