package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/reply-gateway/internal/store"
)

// commitTimeout bounds the final write once a record has been produced. The
// write runs detached from the request context so a caller timeout after
// generation cannot leave a half-finished commit.
const commitTimeout = 5 * time.Second

// UpdateFunc produces the record to append from the current history. It may
// mutate current (e.g. seed caller-supplied context); an error aborts the
// update with nothing written.
type UpdateFunc func(ctx context.Context, current *ReplyHistory) (ReplyRecord, error)

// StoreOptions holds backend-facing settings of a Store.
type StoreOptions struct {
	TTL                 time.Duration // Expiry for history blobs (0 = never)
	TolerateUnavailable bool          // Read degrades to empty history
}

// Store manages ReplyHistory entities on a backend.
type Store struct {
	backend     store.Backend
	summarizer  *Summarizer
	config      Config
	opts        StoreOptions
	locks       *keyLocker
	now         func() time.Time
	onSummarize func(err error)
}

// NewStore creates a history store. cfg is defaulted; callers validate it
// at configuration load.
func NewStore(backend store.Backend, summarizer *Summarizer, cfg Config, opts StoreOptions) *Store {
	return &Store{
		backend:    backend,
		summarizer: summarizer,
		config:     cfg.WithDefaults(),
		opts:       opts,
		locks:      newKeyLocker(),
		now:        time.Now,
	}
}

// OnSummarize registers a hook called after every summarization attempt
// with its outcome (nil on success).
func (s *Store) OnSummarize(fn func(err error)) {
	s.onSummarize = fn
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Config returns the effective policy.
func (s *Store) Config() Config {
	return s.config
}

// Read returns the history for key; unknown keys yield an empty history.
func (s *Store) Read(ctx context.Context, key ConversationKey) (*ReplyHistory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	h, _, err := s.load(ctx, key)
	if err != nil {
		if s.opts.TolerateUnavailable && errors.Is(err, store.ErrBackendUnavailable) {
			log.Warn().Err(err).Str("user_id", key.UserID).Str("post_id", key.PostID).Msg("backend unavailable, treating history as empty")
			return &ReplyHistory{}, nil
		}
		return nil, err
	}
	return h, nil
}

// Append adds rec to the history for key.
func (s *Store) Append(ctx context.Context, key ConversationKey, rec ReplyRecord) (*ReplyHistory, error) {
	_, h, err := s.Update(ctx, key, func(context.Context, *ReplyHistory) (ReplyRecord, error) {
		return rec, nil
	})
	return h, err
}

// Update runs fn inside the per-key critical section and appends the record
// it returns. The appended record (with its final timestamp) and the
// resulting history are returned.
func (s *Store) Update(ctx context.Context, key ConversationKey, fn UpdateFunc) (*ReplyRecord, *ReplyHistory, error) {
	if err := key.Validate(); err != nil {
		return nil, nil, err
	}

	unlock, err := s.locks.Lock(ctx, key.StorageKey())
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for history lock %s: %w", key, err)
	}
	defer unlock()

	h, prev, err := s.load(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	rec, err := fn(ctx, h)
	if err != nil {
		return nil, nil, err
	}

	rec.Timestamp = h.NextTimestamp(s.now())
	h.Records = append(h.Records, rec)
	h.TotalCount++
	h.UpdatedAt = rec.Timestamp

	if err := s.summarize(ctx, key, h); err != nil {
		log.Warn().Err(err).
			Str("user_id", key.UserID).
			Str("post_id", key.PostID).
			Int("records", len(h.Records)).
			Msg("summarization failed, keeping literal records until next append")
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := s.save(commitCtx, key, prev, h); err != nil {
		return nil, nil, err
	}

	return &rec, h.Clone(), nil
}

// Delete removes the history for key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key ConversationKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	unlock, err := s.locks.Lock(ctx, key.StorageKey())
	if err != nil {
		return false, fmt.Errorf("waiting for history lock %s: %w", key, err)
	}
	defer unlock()

	existed, err := s.backend.Delete(ctx, key.StorageKey())
	if err != nil {
		return false, fmt.Errorf("delete history %s: %w", key, err)
	}
	return existed, nil
}

// Ping reports backend health.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// summarize collapses the oldest records once the literal count exceeds
// MaxRecords. On failure h is left untouched apart from the new record.
func (s *Store) summarize(ctx context.Context, key ConversationKey, h *ReplyHistory) error {
	if len(h.Records) <= s.config.MaxRecords || s.summarizer == nil {
		return nil
	}

	cut := len(h.Records) - s.config.KeepRecent
	start := time.Now()
	summary, err := s.summarizer.Summarize(ctx, h.Summary, h.Records[:cut])
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	if s.onSummarize != nil {
		s.onSummarize(err)
	}
	if err != nil {
		return err
	}

	h.Summary = summary
	h.SummarizedCount += cut
	h.Records = append([]ReplyRecord(nil), h.Records[cut:]...)

	log.Debug().
		Str("user_id", key.UserID).
		Str("post_id", key.PostID).
		Int("collapsed", cut).
		Int("kept", len(h.Records)).
		Dur("duration", time.Since(start)).
		Msg("history summarized")
	return nil
}

// load returns the decoded history and the raw bytes it came from (nil when
// the key is absent).
func (s *Store) load(ctx context.Context, key ConversationKey) (*ReplyHistory, []byte, error) {
	raw, found, err := s.backend.Get(ctx, key.StorageKey())
	if err != nil {
		return nil, nil, fmt.Errorf("read history %s: %w", key, err)
	}
	if !found {
		return &ReplyHistory{}, nil, nil
	}

	var h ReplyHistory
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, nil, fmt.Errorf("decode history %s: %w", key, err)
	}
	return &h, raw, nil
}

// save writes h. On a Swapper backend the write only succeeds while the key
// still holds prev, which catches writers in other processes that the key
// lock cannot see.
func (s *Store) save(ctx context.Context, key ConversationKey, prev []byte, h *ReplyHistory) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", key, err)
	}

	if sw, ok := s.backend.(store.Swapper); ok {
		err = sw.CompareAndSwap(ctx, key.StorageKey(), prev, raw, s.opts.TTL)
	} else {
		err = s.backend.Set(ctx, key.StorageKey(), raw, s.opts.TTL)
	}
	if err != nil {
		return fmt.Errorf("write history %s: %w", key, err)
	}
	return nil
}
