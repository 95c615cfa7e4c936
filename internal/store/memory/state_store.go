// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore is an in-memory implementation of store.IdempotencyStore.
// TTL expiration is checked on access (lazy expiration).
type IdempotencyStore struct {
	mu sync.Mutex

	// keys maps a message key to its expiry
	keys map[string]time.Time

	now func() time.Time
}

// NewIdempotencyStore creates a new in-memory idempotency store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// MarkProcessed records key for ttl and reports whether it was new.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, exists := s.keys[key]; exists && now.Before(expiresAt) {
		return false, nil
	}

	s.keys[key] = now.Add(ttl)
	s.sweepLocked(now)
	return true, nil
}

// Forget removes key.
func (s *IdempotencyStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, key)
	return nil
}

// Len returns the number of live keys. Useful for testing.
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())
	return len(s.keys)
}

// Close is a no-op for the in-memory store.
func (s *IdempotencyStore) Close() error {
	return nil
}

// sweepLocked drops expired keys so the map does not grow without bound.
func (s *IdempotencyStore) sweepLocked(now time.Time) {
	for k, expiresAt := range s.keys {
		if !now.Before(expiresAt) {
			delete(s.keys, k)
		}
	}
}
