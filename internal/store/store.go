// Package store provides the key/value persistence layer for reply histories.
//
// DESIGN: Backend is a small capability set (get/set/delete/ping) so the
// in-process map and the durable stores are interchangeable. Selection
// happens once at startup via New(cfg); nothing else in the service knows
// which variant is active.
//
// VARIANTS:
//   - MemoryStore:   lock-guarded map with per-entry expiry (single process)
//   - RedisStore:    networked durable store (go-redis)
//   - SQLiteStore:   single-node durable store (modernc sqlite)
//   - RetryingStore: decorator that retries transient unavailability
//
// All variants implement Swapper; the history store uses it for its
// read-modify-write commit.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackendUnavailable marks failures to reach the storage capability.
// It is never used to report a missing key.
var ErrBackendUnavailable = errors.New("store: backend unavailable")

// ErrConflict reports a conditional write that lost to another writer.
var ErrConflict = errors.New("store: concurrent update")

// Backend type names accepted in configuration.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

// DefaultMaxRetries is the number of attempts RetryingStore makes by default.
const DefaultMaxRetries = 3

// Backend is the key/value capability used by the history store.
type Backend interface {
	// Get returns the value for key. The bool is false when the key is
	// absent or expired; err is reserved for backend failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Ping reports backend health.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Swapper is implemented by backends that can write conditionally, so
// several processes sharing one store cannot overwrite each other.
type Swapper interface {
	// CompareAndSwap stores value under key only while the current value
	// equals old. A nil old means the key must be absent. A mismatch
	// returns ErrConflict unless the current value already equals value.
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error
}

// Config selects and parameterizes a backend.
type Config struct {
	Type                string        `yaml:"type"`                 // memory, redis, sqlite
	TTL                 time.Duration `yaml:"ttl"`                  // Expiry for history blobs (0 = never)
	TolerateUnavailable bool          `yaml:"tolerate_unavailable"` // Reads degrade to empty history
	MaxRetries          int           `yaml:"max_retries"`          // Attempts on transient failure
	Redis               RedisConfig   `yaml:"redis"`
	SQLite              SQLiteConfig  `yaml:"sqlite"`
}

// RedisConfig contains connection settings for RedisStore.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SQLiteConfig contains settings for SQLiteStore.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate checks the backend configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "":
		return fmt.Errorf("store.type is required")
	case TypeMemory:
	case TypeRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for redis store")
		}
	case TypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for sqlite store")
		}
	default:
		return fmt.Errorf("invalid store.type: %q (must be memory, redis or sqlite)", c.Type)
	}
	if c.TTL < 0 {
		return fmt.Errorf("store.ttl must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("store.max_retries must not be negative")
	}
	return nil
}

// New creates the configured backend. Durable backends are wrapped in a
// RetryingStore.
func New(cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}

	switch cfg.Type {
	case TypeRedis:
		return NewRetryingStore(NewRedisStore(cfg.Redis), retries), nil
	case TypeSQLite:
		st, err := NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return NewRetryingStore(st, retries), nil
	default:
		return NewMemoryStore(), nil
	}
}

// unavailable classifies a driver error. Caller cancellation is passed
// through unclassified so it is never retried.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// swapAllowed decides a conditional write given the current value (nil when
// absent). Finding value already in place means an earlier attempt landed.
func swapAllowed(current, old, value []byte) error {
	if (current == nil) == (old == nil) && bytes.Equal(current, old) {
		return nil
	}
	if current != nil && bytes.Equal(current, value) {
		return nil
	}
	return ErrConflict
}
