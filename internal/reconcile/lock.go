package reconcile

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker claims a sweep cycle across replicas. It only spreads provider
// load; settlement stays correct without it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisLocker struct {
	rdb   *redis.Client
	owner string
}

func NewRedisLocker(rdb *redis.Client, owner string) *RedisLocker {
	return &RedisLocker{rdb: rdb, owner: owner}
}

// TryLock holds key until ttl expires; it is never released early.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
}
