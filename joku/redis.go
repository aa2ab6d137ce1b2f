package joku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore is the key-value cache adapter. Its only domain use is
// cooldown buckets: a named rate-limit counter keyed by user, expiring
// after a TTL.
type CacheStore interface {
	// Connect establishes and verifies the connection. A no-op when
	// already connected.
	Connect(ctx context.Context) error

	Connected() bool

	Close() error

	// GetCooldownExpiration returns the remaining TTL for the user's
	// bucket. ok is false when no bucket is set (the command may run).
	GetCooldownExpiration(
		ctx context.Context,
		userID string,
		bucket string,
	) (ttl time.Duration, ok bool, err error)

	// SetBucketWithExpiration marks the user's bucket as used for the
	// given TTL.
	SetBucketWithExpiration(
		ctx context.Context,
		userID string,
		bucket string,
		ttl time.Duration,
	) error
}

// RedisAdapter implements CacheStore over Redis.
type RedisAdapter struct {
	config    RedisConfig
	logger    *slog.Logger
	client    *redis.Client
	connected atomic.Bool
}

func NewRedisAdapter(config RedisConfig, logHandler slog.Handler) *RedisAdapter {
	return &RedisAdapter{
		config: config,
		logger: slog.New(logHandler).With(loggerNameKey, "redis"),
	}
}

func cooldownKey(bucket, userID string) string {
	return fmt.Sprintf("cooldown:%s:%s", bucket, userID)
}

func (a *RedisAdapter) Connect(ctx context.Context) error {
	if a.connected.Load() {
		return nil
	}
	client := redis.NewClient(
		&redis.Options{
			Addr:     a.config.Address,
			Password: a.config.Password,
			DB:       a.config.DB,
		},
	)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	a.client = client
	a.connected.Store(true)
	a.logger.InfoContext(ctx, "connected to redis", "address", a.config.Address)
	return nil
}

func (a *RedisAdapter) Connected() bool {
	return a.connected.Load()
}

func (a *RedisAdapter) Close() error {
	if !a.connected.Load() {
		return nil
	}
	a.connected.Store(false)
	return a.client.Close()
}

func (a *RedisAdapter) GetCooldownExpiration(
	ctx context.Context,
	userID string,
	bucket string,
) (time.Duration, bool, error) {
	if !a.connected.Load() {
		return 0, false, ErrStoreNotConnected
	}
	ttl, err := a.client.TTL(ctx, cooldownKey(bucket, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	// TTL returns a negative duration for missing keys and keys with
	// no expiration.
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (a *RedisAdapter) SetBucketWithExpiration(
	ctx context.Context,
	userID string,
	bucket string,
	ttl time.Duration,
) error {
	if !a.connected.Load() {
		return ErrStoreNotConnected
	}
	return a.client.Set(ctx, cooldownKey(bucket, userID), "1", ttl).Err()
}
