// Package store defines interfaces for data persistence, deduplication and
// cluster-wide locking. These abstractions allow swapping implementations
// (Redis, PostgreSQL, in-memory) without changing business logic.
package store

import (
	"context"
	"time"
)

// IdempotencyStore remembers which message keys were already handled.
// Consumers acknowledge records before handling them, so redeliveries
// are expected and handlers use this store to absorb them.
// All methods must be safe for concurrent use.
type IdempotencyStore interface {
	// MarkProcessed records key for ttl. It returns true if the key was
	// not present, i.e. the caller is the first to handle it.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Forget removes key so the message can be handled again.
	Forget(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
