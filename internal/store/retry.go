package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Retry timing for transient backend failures. Storage calls are expected to
// be fast, so the total wait stays well under a request timeout.
const (
	retryInitialInterval = 20 * time.Millisecond
	retryMaxInterval     = 200 * time.Millisecond
)

// RetryingStore retries operations that fail with ErrBackendUnavailable.
// Other errors are returned immediately.
type RetryingStore struct {
	inner    Backend
	maxTries uint
	onRetry  func(op string, err error)
}

// NewRetryingStore wraps inner with at most maxTries attempts per call.
func NewRetryingStore(inner Backend, maxTries int) *RetryingStore {
	if maxTries < 1 {
		maxTries = 1
	}
	return &RetryingStore{inner: inner, maxTries: uint(maxTries)}
}

// OnRetry registers a hook invoked before each retry (used for metrics).
func (s *RetryingStore) OnRetry(fn func(op string, err error)) {
	s.onRetry = fn
}

// Unwrap returns the decorated backend.
func (s *RetryingStore) Unwrap() Backend {
	return s.inner
}

func retry[T any](ctx context.Context, s *RetryingStore, op string, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, ErrBackendUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Debug().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying store operation")
			if s.onRetry != nil {
				s.onRetry(op, err)
			}
		}),
	)
}

type getResult struct {
	value []byte
	found bool
}

// Get retries inner.Get.
func (s *RetryingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := retry(ctx, s, "get", func() (getResult, error) {
		v, ok, err := s.inner.Get(ctx, key)
		return getResult{value: v, found: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.value, res.found, nil
}

// Set retries inner.Set.
func (s *RetryingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := retry(ctx, s, "set", func() (struct{}, error) {
		return struct{}{}, s.inner.Set(ctx, key, value, ttl)
	})
	return err
}

// CompareAndSwap retries inner.CompareAndSwap. ErrConflict is permanent.
// An inner backend without conditional writes falls back to Set.
func (s *RetryingStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	sw, ok := s.inner.(Swapper)
	if !ok {
		return s.Set(ctx, key, value, ttl)
	}
	_, err := retry(ctx, s, "cas", func() (struct{}, error) {
		return struct{}{}, sw.CompareAndSwap(ctx, key, old, value, ttl)
	})
	return err
}

// Delete retries inner.Delete.
func (s *RetryingStore) Delete(ctx context.Context, key string) (bool, error) {
	return retry(ctx, s, "delete", func() (bool, error) {
		return s.inner.Delete(ctx, key)
	})
}

// Ping is not retried; health checks report the current state.
func (s *RetryingStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Close closes the decorated backend.
func (s *RetryingStore) Close() error {
	return s.inner.Close()
}

var (
	_ Backend = (*RetryingStore)(nil)
	_ Swapper = (*RetryingStore)(nil)
)
