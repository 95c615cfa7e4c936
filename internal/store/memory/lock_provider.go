package memory

import (
	"context"
	"sync"
	"time"

	"auth-go/internal/store"
)

// LockProvider is an in-memory store.LockProvider. It only coordinates
// goroutines of one process.
type LockProvider struct {
	mu    sync.Mutex
	locks map[string]*lockRecord
	now   func() time.Time
}

type lockRecord struct {
	lockUntil time.Time
	lockedAt  time.Time
	// generation identifies the acquisition so a stale holder cannot
	// release a lock that was taken over after its lease expired.
	generation uint64
}

// NewLockProvider creates an empty lock table.
func NewLockProvider() *LockProvider {
	return NewLockProviderWithClock(time.Now)
}

// NewLockProviderWithClock creates a lock table driven by now. Useful
// for testing lease expiry without sleeping.
func NewLockProviderWithClock(now func() time.Time) *LockProvider {
	return &LockProvider{
		locks: make(map[string]*lockRecord),
		now:   now,
	}
}

// TryLock acquires cfg.Name if it is free or its lease has run out.
func (p *LockProvider) TryLock(ctx context.Context, cfg store.LockConfiguration) (store.Lock, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	rec, exists := p.locks[cfg.Name]
	if exists && rec.lockUntil.After(now) {
		return nil, false, nil
	}

	var generation uint64 = 1
	if exists {
		generation = rec.generation + 1
	}
	p.locks[cfg.Name] = &lockRecord{
		lockUntil:  cfg.LockUntil(now),
		lockedAt:   now,
		generation: generation,
	}

	return &memoryLock{provider: p, cfg: cfg, generation: generation}, true, nil
}

// LockedUntil returns the current lease end of name. Useful for testing.
func (p *LockProvider) LockedUntil(name string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, exists := p.locks[name]
	if !exists {
		return time.Time{}, false
	}
	return rec.lockUntil, true
}

type memoryLock struct {
	provider   *LockProvider
	cfg        store.LockConfiguration
	generation uint64
	once       sync.Once
}

// Unlock shortens the lease to the minimum hold.
func (l *memoryLock) Unlock(ctx context.Context) error {
	l.once.Do(func() {
		p := l.provider
		p.mu.Lock()
		defer p.mu.Unlock()

		rec, exists := p.locks[l.cfg.Name]
		if !exists || rec.generation != l.generation {
			return
		}
		rec.lockUntil = l.cfg.UnlockTime(rec.lockedAt, p.now())
	})
	return nil
}
