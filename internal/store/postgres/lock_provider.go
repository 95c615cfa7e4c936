package postgres

import (
	"context"
	"fmt"
	"time"

	"auth-go/internal/store"
)

// LockProvider implements store.LockProvider on the shedlock table. All
// timestamps come from the database clock so instances with skewed
// clocks still agree.
type LockProvider struct {
	db       *DB
	instance string
}

// NewLockProvider creates a lock provider; instance is written to
// locked_by and must be unique per process.
func NewLockProvider(db *DB, instance string) *LockProvider {
	return &LockProvider{db: db, instance: instance}
}

// TryLock inserts or takes over the row for cfg.Name when its lease has
// run out. Exactly one concurrent caller sees a row affected.
func (p *LockProvider) TryLock(ctx context.Context, cfg store.LockConfiguration) (_ store.Lock, acquired bool, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	defer func(start time.Time) { observe("lock_acquire", start, err) }(time.Now())

	query := `
		INSERT INTO shedlock (name, lock_until, locked_at, locked_by)
		VALUES ($1, now() + $2::interval, now(), $3)
		ON CONFLICT (name) DO UPDATE SET
			lock_until = EXCLUDED.lock_until,
			locked_at = EXCLUDED.locked_at,
			locked_by = EXCLUDED.locked_by
		WHERE shedlock.lock_until <= EXCLUDED.locked_at
	`

	result, err := p.db.pool.Exec(ctx, query, cfg.Name, cfg.LockAtMostFor, p.instance)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", cfg.Name, err)
	}
	if result.RowsAffected() != 1 {
		return nil, false, nil
	}

	return &postgresLock{provider: p, cfg: cfg}, true, nil
}

type postgresLock struct {
	provider *LockProvider
	cfg      store.LockConfiguration
}

// Unlock keeps the row taken until locked_at + lockAtLeastFor.
func (l *postgresLock) Unlock(ctx context.Context) (err error) {
	defer func(start time.Time) { observe("lock_release", start, err) }(time.Now())

	query := `
		UPDATE shedlock
		SET lock_until = GREATEST(now(), locked_at + $2::interval)
		WHERE name = $1 AND locked_by = $3
	`

	if _, err = l.provider.db.pool.Exec(ctx, query, l.cfg.Name, l.cfg.LockAtLeastFor, l.provider.instance); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.cfg.Name, err)
	}
	return nil
}
