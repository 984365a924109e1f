package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// RedisLocker holds locks as expiring keys so a crashed holder cannot
// wedge other instances forever.
type RedisLocker struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
}

// NewRedisLocker returns a locker whose blocking Lock calls hold keys for ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:       client,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
	}
}

func (r *RedisLocker) makeKey(key string) string {
	return fmt.Sprintf("grievance:lock:%s", key)
}

func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	holder := uuid.NewString()
	redisKey := r.makeKey(key)

	ok, err := r.client.SetNX(ctx, redisKey, holder, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// background context: the caller's ctx may already be cancelled
		r.client.Eval(context.Background(), releaseScript, []string{redisKey}, holder)
	}
	return release, true, nil
}

// Lock polls until the key is free or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		release, ok, err := r.TryLock(ctx, key, r.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
