package poller

import (
	"context"
	"time"

	"voice-campaigns/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Lease keeps a single poller per batch across instances.
type Lease interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// RedisLease implements Lease with SET NX PX and a compare-and-delete release.
type RedisLease struct {
	rdb *redis.Client
}

func NewRedisLease(rdb *redis.Client) *RedisLease { return &RedisLease{rdb: rdb} }

func (l *RedisLease) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return utils.AcquireLease(ctx, l.rdb, key, token, ttl)
}

func (l *RedisLease) Release(ctx context.Context, key, token string) error {
	return utils.ReleaseLease(ctx, l.rdb, key, token)
}

// LocalLease always grants the lease. For single-instance runs without Redis.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (LocalLease) Release(context.Context, string, string) error { return nil }
