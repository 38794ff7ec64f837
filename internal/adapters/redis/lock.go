package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// unlockLua deletes the key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL only if the caller still owns the key.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Locker implements ports.Locker with SET NX PX and token-checked scripts.
type Locker struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLocker creates a Locker. Keys are namespaced under prefix.
func NewLocker(rdb *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "lpbot"
	}
	return &Locker{
		rdb:      rdb,
		prefix:   prefix,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// LockKey returns the Redis key guarding key.
func (l *Locker) LockKey(key string) string {
	return l.prefix + ":lock:" + key
}

// Acquire takes the lease or fails with domain.ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	token := uuid.NewString()
	lk := l.LockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{locker: l, key: lk, token: token, ttl: ttl}, nil
}

type lease struct {
	locker *Locker
	key    string
	token  string
	ttl    time.Duration

	once sync.Once
}

func (le *lease) Refresh(ctx context.Context) error {
	n, err := le.locker.extendSc.Run(ctx, le.locker.rdb, []string{le.key}, le.token, le.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", le.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w", le.key, domain.ErrLockHeld)
	}
	return nil
}

// Release uses a background context so it works after the caller's ctx is cancelled.
func (le *lease) Release() {
	le.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = le.locker.unlockSc.Run(ctx, le.locker.rdb, []string{le.key}, le.token).Err()
	})
}

var _ ports.Locker = (*Locker)(nil)
