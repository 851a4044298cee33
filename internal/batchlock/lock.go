// Package batchlock serialises lifecycle operations on a single batch across
// processes with a Redis lock.
package batchlock

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("batchlock",
	fx.Provide(
		NewRedisLocker,
		func(l *RedisLocker) Locker { return l },
	),
)

// Locker runs fn while holding the lock for the batch.
type Locker interface {
	WithLock(ctx context.Context, batchID snowflake.ID, fn func(ctx context.Context) error) error
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(rdb *redis.Client, cfg config.Config) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: cfg.Queue.KeyPrefix, ttl: cfg.Queue.LockTTL}
}

func (l *RedisLocker) key(batchID snowflake.ID) string {
	return l.prefix + ":batch:" + batchID.String()
}

func (l *RedisLocker) WithLock(ctx context.Context, batchID snowflake.ID, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key(batchID), token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ierr.BatchStatus("Batch " + batchID.String() + " is being processed by another operation")
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{l.key(batchID)}, token).Err()
	}()
	return fn(ctx)
}

// Noop runs fn without locking. Used where a single process owns the batch.
type Noop struct{}

func (Noop) WithLock(ctx context.Context, _ snowflake.ID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
