package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"auth-go/internal/store"
)

// unlockScript releases a lock only for its owner. ARGV[2] is the
// remaining minimum hold in milliseconds; when positive the key is kept
// for that long, otherwise it is deleted.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
local keep = tonumber(ARGV[2])
if keep > 0 then
	return redis.call("PEXPIRE", KEYS[1], keep)
end
return redis.call("DEL", KEYS[1])
`)

// LockProvider implements store.LockProvider with one key per lock name.
// Redis key expiry enforces lockAtMostFor.
type LockProvider struct {
	client   *redis.Client
	instance string
}

// NewLockProvider creates a lock provider; instance identifies this
// process as the lock owner.
func NewLockProvider(client *redis.Client, instance string) *LockProvider {
	return &LockProvider{client: client, instance: instance}
}

func lockKey(name string) string {
	return prefixLock + name
}

// TryLock sets the key with NX and a lockAtMostFor expiry.
func (p *LockProvider) TryLock(ctx context.Context, cfg store.LockConfiguration) (store.Lock, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}

	lockedAt := time.Now()
	owner := fmt.Sprintf("%s@%d", p.instance, lockedAt.UnixNano())

	start := time.Now()
	ok, err := p.client.SetNX(ctx, lockKey(cfg.Name), owner, cfg.LockAtMostFor).Result()
	observe("lock_acquire", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", cfg.Name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &redisLock{provider: p, cfg: cfg, owner: owner, lockedAt: lockedAt}, true, nil
}

type redisLock struct {
	provider *LockProvider
	cfg      store.LockConfiguration
	owner    string
	lockedAt time.Time
}

// Unlock keeps the key alive for the rest of the minimum hold, or
// deletes it when the hold already elapsed.
func (l *redisLock) Unlock(ctx context.Context) error {
	keep := time.Until(l.lockedAt.Add(l.cfg.LockAtLeastFor))

	start := time.Now()
	_, err := unlockScript.Run(ctx, l.provider.client,
		[]string{lockKey(l.cfg.Name)},
		l.owner, keep.Milliseconds(),
	).Int64()
	observe("lock_release", start, err)
	return releaseError(l.cfg.Name, err)
}

// releaseError maps the unlock script error. A script result of 0 means
// the lease already expired or moved to another owner, which needs no
// release; a nil reply is treated the same way.
func releaseError(name string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("failed to release lock %s: %w", name, err)
}
