package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLockConfiguration is returned for a lock configuration that
// violates 0 < lockAtLeastFor <= lockAtMostFor.
var ErrInvalidLockConfiguration = errors.New("invalid lock configuration")

// LockConfiguration describes one acquisition of a named cluster lock.
type LockConfiguration struct {
	// Name identifies the lock across all instances.
	Name string

	// LockAtMostFor is the lease: a holder that crashes loses the lock
	// after this long.
	LockAtMostFor time.Duration

	// LockAtLeastFor is the minimum hold. Unlocking earlier keeps the
	// slot taken until CreatedAt + LockAtLeastFor.
	LockAtLeastFor time.Duration

	// CreatedAt is when the acquisition was attempted.
	CreatedAt time.Time
}

// NewLockConfiguration builds a configuration stamped with the current time.
func NewLockConfiguration(name string, atMost, atLeast time.Duration) LockConfiguration {
	return LockConfiguration{
		Name:           name,
		LockAtMostFor:  atMost,
		LockAtLeastFor: atLeast,
		CreatedAt:      time.Now(),
	}
}

// Validate checks the configuration invariants.
func (c LockConfiguration) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidLockConfiguration)
	case c.LockAtLeastFor <= 0:
		return fmt.Errorf("%w: %s: lock_at_least_for must be positive", ErrInvalidLockConfiguration, c.Name)
	case c.LockAtLeastFor > c.LockAtMostFor:
		return fmt.Errorf("%w: %s: lock_at_least_for (%s) exceeds lock_at_most_for (%s)",
			ErrInvalidLockConfiguration, c.Name, c.LockAtLeastFor, c.LockAtMostFor)
	}
	return nil
}

// LockUntil returns the lease end of an acquisition at now.
func (c LockConfiguration) LockUntil(now time.Time) time.Time {
	return now.Add(c.LockAtMostFor)
}

// UnlockTime returns when a lock acquired at lockedAt may be taken again
// if it is released at now.
func (c LockConfiguration) UnlockTime(lockedAt, now time.Time) time.Time {
	minHold := lockedAt.Add(c.LockAtLeastFor)
	if minHold.After(now) {
		return minHold
	}
	return now
}

// Lock is a held cluster lock.
type Lock interface {
	// Unlock releases the lock, honoring the minimum hold.
	Unlock(ctx context.Context) error
}

// LockProvider grants named cluster locks.
type LockProvider interface {
	// TryLock attempts to acquire cfg.Name without blocking. It returns
	// false with a nil error when another instance holds the lock.
	TryLock(ctx context.Context, cfg LockConfiguration) (Lock, bool, error)
}
