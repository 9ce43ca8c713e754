package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultRetryBackoff = 50 * time.Millisecond
	defaultAcquireWait  = 5 * time.Second

	lockKeyPrefix = "lock:"
)

// ErrNotAcquired signals that the lock could not be obtained within the wait window.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the lock only when it is still held by this owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements keyed locking across instances using SET NX PX.
type RedisLocker struct {
	client  redis.UniversalClient
	ttl     time.Duration
	backoff time.Duration
	wait    time.Duration
}

// RedisOption customises RedisLocker behaviour.
type RedisOption func(*RedisLocker)

// WithTTL bounds how long a lock may be held before it expires on its own.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithAcquireWait bounds how long WithLock retries before giving up.
func WithAcquireWait(wait time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// WithRetryBackoff sets the pause between acquisition attempts.
func WithRetryBackoff(backoff time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if backoff > 0 {
			l.backoff = backoff
		}
	}
}

// NewRedisLocker constructs a Redis-backed keyed locker.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is required")
	}
	l := &RedisLocker{
		client:  client,
		ttl:     defaultLockTTL,
		backoff: defaultRetryBackoff,
		wait:    defaultAcquireWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// WithLock acquires the distributed lock for key, runs fn, and releases the
// lock if this instance still owns it.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := lockKeyPrefix + key
	owner := ulid.Make().String()

	deadline := time.Now().Add(l.wait)
	for {
		acquired, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_, _ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, owner).Result()
	}()

	return fn(ctx)
}
