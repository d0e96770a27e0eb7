package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stellune/credits-service/internal/infrastructure/observability"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// releaseScript deletes the lock only when it still holds our token, so a
// lease that outlived its TTL can never release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker provides mutual exclusion across processes sharing one Redis.
// Acquisition is SET NX PX with a per-lease holder token; the TTL is a
// safety net so a crashed holder cannot wedge a key forever.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, timeout time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		timeout: timeout,
		retry:   25 * time.Millisecond,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key Key) (*Lease, error) {
	name := "lock:" + key.String()
	token := uuid.NewString()

	start := time.Now()
	deadline := start.Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s: %w", name, err)
		}
		if ok {
			observability.LockWaitDuration.WithLabelValues(string(key.Kind)).Observe(time.Since(start).Seconds())
			return &Lease{key: key, release: func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.client, []string{name}, token).Err(); err != nil {
					slog.Error("failed to release lock", "key", name, "error", err)
					return fmt.Errorf("failed to release %s: %w", name, err)
				}
				return nil
			}}, nil
		}
		if time.Now().After(deadline) {
			observability.LockTimeouts.WithLabelValues(string(key.Kind)).Inc()
			return nil, fmt.Errorf("%w: %s after %s", pkgerrors.ErrLockTimeout, name, l.timeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", pkgerrors.ErrLockTimeout, name, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

func (l *RedisLocker) Close() error { return nil }
