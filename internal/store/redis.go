package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL is refreshed on every write. Zero disables expiry.
	TTL time.Duration
	// Prefix namespaces device hashes. Defaults to "chat:device:".
	Prefix string
}

// RedisStore implements Repository with one hash per device.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return newRedisStore(rdb, opts), nil
}

func newRedisStore(rdb *redis.Client, opts RedisOptions) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "chat:device:"
	}
	return &RedisStore{rdb: rdb, ttl: opts.TTL, prefix: prefix}
}

func (s *RedisStore) hashKey(deviceID string) string {
	return s.prefix + deviceID
}

// Get reads one field of the device hash.
func (s *RedisStore) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	value, err := s.rdb.HGet(ctx, s.hashKey(deviceID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes one field and refreshes the hash TTL.
func (s *RedisStore) Set(ctx context.Context, deviceID, key, value string) error {
	hk := s.hashKey(deviceID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hk, key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, hk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes fields from the device hash.
func (s *RedisStore) Delete(ctx context.Context, deviceID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, s.hashKey(deviceID), keys...).Err(); err != nil {
		return fmt.Errorf("delete client state: %w", err)
	}
	return nil
}

// Touch refreshes the TTL of the given device hashes. Missing hashes are
// left absent.
func (s *RedisStore) Touch(ctx context.Context, deviceIDs ...string) error {
	if s.ttl <= 0 || len(deviceIDs) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range deviceIDs {
			pipe.Expire(ctx, s.hashKey(id), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("touch client state: %w", err)
	}
	return nil
}

// CleanupStale is a no-op: Redis expires idle device hashes itself.
func (s *RedisStore) CleanupStale(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
