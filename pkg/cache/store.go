package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates the requested key is not in the store.
var ErrNotFound = errors.New("cache entry not found")

// Store is a cache backend. Implementations must be safe for concurrent
// use. A ttl <= 0 means the backend applies no expiry of its own; the
// manager handles staleness and eviction.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the default process-lifetime backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get returns a deep copy of the stored entry so callers cannot mutate
// cache state behind the manager's back. Fresh hits hand the payload
// straight to engine callers, so the copy must cover Data and Headers,
// not just the struct.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

// Set stores a deep copy of the entry unconditionally. Last write wins.
// The engine returns the same payload slice it stores, so the copy on
// write keeps later caller mutations out of the cache.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = *copyEntry(*entry)
	return nil
}

// copyEntry detaches the stored entry from caller-visible slices and maps.
func copyEntry(entry Entry) *Entry {
	out := entry
	if entry.Data != nil {
		out.Data = append([]byte(nil), entry.Data...)
	}
	if entry.Headers != nil {
		out.Headers = entry.Headers.Clone()
	}
	return &out
}

// Delete removes the entry if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
