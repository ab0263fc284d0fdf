package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// unlockLua deletes the lock only while it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the lock still carries the
// caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and
// token-checked Lua scripts for release and keepalive.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for key with the given TTL and returns an
// idempotent unlock function. It returns domain.ErrLockHeld when someone
// else holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { lm.release(key, token) })
	}, nil
}

// Hold takes the lock for key and extends it every ttl/3 until the lease is
// released or ctx ends. If an extension fails the lease reports Lost.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, err
	}

	l := &lease{
		lost: make(chan struct{}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	l.release = func() { lm.release(key, token) }

	go lm.keepAlive(ctx, key, token, ttl, l)
	return l, nil
}

func (lm *LockManager) take(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := lm.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return token, nil
}

// release uses a fresh context so it succeeds after the caller's is gone.
func (lm *LockManager) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = lm.unlockSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Err()
}

func (lm *LockManager) keepAlive(ctx context.Context, key, token string, ttl time.Duration, l *lease) {
	defer close(l.done)

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
			if err != nil && ctx.Err() != nil {
				return
			}
			if err != nil || n == 0 {
				close(l.lost)
				return
			}
		}
	}
}

type lease struct {
	lost    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	release func()
}

func (l *lease) Lost() <-chan struct{} { return l.lost }

// Release stops the keepalive and deletes the lock. Safe to call twice.
func (l *lease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.release()
	})
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
