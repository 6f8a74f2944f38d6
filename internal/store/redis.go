package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisDialTimeout bounds connection setup when not configured.
const DefaultRedisDialTimeout = 2 * time.Second

// RedisStore is a Backend on a Redis-compatible server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a client. The connection is established lazily;
// use Ping to verify reachability.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = DefaultRedisDialTimeout
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dial,
			MaxRetries:  -1, // retries are owned by RetryingStore
		}),
	}
}

// Get returns the stored bytes. redis.Nil maps to absent; anything else is
// reported as unavailability.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis get", err)
	}
	return val, true, nil
}

// Set writes value with an optional expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

// CompareAndSwap writes value under WATCH so a concurrent write to key
// between the check and the EXEC aborts the transaction.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = nil
		case err != nil:
			return err
		}
		if err := swapAllowed(current, old, value); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("redis cas: %w", ErrConflict)
	}
	return unavailable("redis cas", err)
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, unavailable("redis del", err)
	}
	return n > 0, nil
}

// Ping performs a round-trip to the server.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ Backend = (*RedisStore)(nil)
	_ Swapper = (*RedisStore)(nil)
)
