package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease serializes dispatch runs across processes. DispatchAllPending
// snapshots the pending set once, so two concurrent runs against the
// same store could both select and double-send the same job; holders of
// the lease are the only writer for the duration of a run.
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// RedisLease implements Lease with a SET NX key per store.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = "certrail:dispatch:lease"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

// releaseScript deletes the lease only when the token still matches, so
// an expired-and-reacquired lease is never released by the old holder.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

func (l *RedisLease) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lease: %w", err)
	}
	if !ok {
		return nil, ErrDispatchLocked
	}
	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, nil
}
