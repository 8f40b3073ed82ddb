// Package ratelimit implements a sliding-window request limiter over a
// pluggable timestamp store.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store keeps the request timestamps of each identity.
type Store interface {
	// Get returns the identity's timestamps, oldest first.
	Get(ctx context.Context, key string) ([]time.Time, error)
	// Set replaces the identity's timestamps. An empty slice removes the
	// identity. ttl is a hint for stores that expire keys themselves.
	Set(ctx context.Context, key string, stamps []time.Time, ttl time.Duration) error
	// Prune drops timestamps not after cutoff and removes identities left
	// empty, returning how many identities were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is a process-local Store. State is lost on restart and is not
// shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamps := s.entries[key]
	out := make([]time.Time, len(stamps))
	copy(out, stamps)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, stamps []time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(stamps) == 0 {
		delete(s.entries, key)
		return nil
	}
	cp := make([]time.Time, len(stamps))
	copy(cp, stamps)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Before(cp[j]) })
	s.entries[key] = cp
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, stamps := range s.entries {
		kept := after(stamps, cutoff)
		if len(kept) == 0 {
			delete(s.entries, key)
			removed++
			continue
		}
		s.entries[key] = kept
	}
	return removed, nil
}

// Len reports the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// after returns the timestamps strictly later than cutoff.
func after(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
