package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance distributed lock (SET NX PX with an
// owner token). Release only deletes the key while still owned.
type RedisLocker struct {
	client     *redis.Client
	retryEvery time.Duration
	logger     *slog.Logger
}

func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, retryEvery: 25 * time.Millisecond, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	redisKey := lockKeyPrefix + key
	owner := uuid.NewString()
	wait := l.retryEvery
	for {
		ok, err := l.client.SetNX(ctx, redisKey, owner, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < 250*time.Millisecond {
			wait *= 2
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("distributed lock release failed",
				"module", "adapters.cache",
				"layer", "adapter",
				"operation", "lock_release",
				"outcome", "failure",
				"error", err,
			)
		}
	}, nil
}
