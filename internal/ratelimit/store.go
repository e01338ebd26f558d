package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store holds window state for every identifier.
type Store interface {
	// Take performs one admission attempt for key under p at time now.
	Take(ctx context.Context, key string, p Policy, now time.Time) (Decision, error)
	// Sweep removes entries whose window has ended and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps entries in process memory. Each process counts independently,
// so running N replicas allows N times the configured rate.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Take implements Store. The check and increment happen under one lock.
func (s *MemoryStore) Take(_ context.Context, key string, p Policy, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &Entry{}
		s.entries[key] = e
	}
	return take(e, p, now), nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int
	for k, e := range s.entries {
		if !e.ResetAt.After(now) {
			delete(s.entries, k)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns a copy of the entry for key.
func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
