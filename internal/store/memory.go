package store

import (
	"context"
	"sync"
	"time"
)

// cleanupInterval is how often expired entries are swept.
const cleanupInterval = 5 * time.Minute

// MemoryStore is an in-process implementation of Backend.
// Nothing is persisted across restarts.
type MemoryStore struct {
	data     map[string]entry
	mu       sync.RWMutex
	stopChan chan struct{}
	stopped  bool
	now      func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore creates an empty store and starts its cleanup goroutine.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		data:     make(map[string]entry),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	go s.cleanup()

	return s
}

// Get retrieves a value if it exists and hasn't expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return nil, false, ErrBackendUnavailable
	}

	e, exists := s.data[key]
	if !exists || e.expired(s.now()) {
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrBackendUnavailable
	}
	s.put(key, value, ttl)
	return nil
}

// CompareAndSwap stores value if key still holds old. Expired entries count
// as absent.
func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrBackendUnavailable
	}

	var current []byte
	if e, ok := s.data[key]; ok && !e.expired(s.now()) {
		current = e.value
	}
	if err := swapAllowed(current, old, value); err != nil {
		return err
	}
	s.put(key, value, ttl)
	return nil
}

// put stores a copy of value. Caller holds mu.
func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
}

// Delete removes a value. Expired entries count as absent.
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false, ErrBackendUnavailable
	}

	e, exists := s.data[key]
	if !exists {
		return false, nil
	}
	delete(s.data, key)
	return !e.expired(s.now()), nil
}

// Ping always succeeds while the store is open.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return ErrBackendUnavailable
	}
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, e := range s.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.data = make(map[string]entry)
	}
	return nil
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	now := s.now()
	for key, e := range s.data {
		if e.expired(now) {
			delete(s.data, key)
		}
	}
}

// Ensure MemoryStore implements Backend
var (
	_ Backend = (*MemoryStore)(nil)
	_ Swapper = (*MemoryStore)(nil)
)
