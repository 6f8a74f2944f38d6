package history_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/reply-gateway/external"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/store"
)

// =============================================================================
// HELPERS
// =============================================================================

// fakeSummaryGen returns a summary echoing how many lines it was asked to fold.
type fakeSummaryGen struct {
	calls   atomic.Int32
	fail    atomic.Bool
	prompts []external.Prompt
	mu      sync.Mutex
}

func (g *fakeSummaryGen) Complete(_ context.Context, p external.Prompt, _ int) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	if g.fail.Load() {
		return "", fmt.Errorf("%w: quota exceeded", external.ErrProvider)
	}
	return fmt.Sprintf("summary of %d replies", strings.Count(p.User, "\n")), nil
}

func (g *fakeSummaryGen) lastPrompt() external.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

func newStore(t *testing.T, gen external.Generator, cfg history.Config) (*history.Store, *store.MemoryStore) {
	backend := store.NewMemoryStore()
	t.Cleanup(func() { backend.Close() })
	return history.NewStore(backend, history.NewSummarizer(gen, 0), cfg, history.StoreOptions{}), backend
}

var key = history.ConversationKey{UserID: "u1", PostID: "p1"}

func appendN(t *testing.T, st *history.Store, k history.ConversationKey, n int) *history.ReplyHistory {
	var h *history.ReplyHistory
	var err error
	for i := 0; i < n; i++ {
		h, err = st.Append(context.Background(), k, history.ReplyRecord{Content: fmt.Sprintf("reply %d", i)})
		require.NoError(t, err)
	}
	return h
}

// =============================================================================
// READ / APPEND / DELETE
// =============================================================================

func TestStore_ReadUnknownKeyIsEmpty(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})

	h, err := st.Read(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, h.IsEmpty())
	assert.Equal(t, 0, h.TotalCount)
	assert.Empty(t, h.Summary)
}

func TestStore_AppendEndsWithRecord(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := history.ReplyRecord{Content: fmt.Sprintf("第%d条", i), IsFirst: i == 0}
		h, err := st.Append(ctx, key, rec)
		require.NoError(t, err)

		last, ok := h.Last()
		require.True(t, ok)
		assert.Equal(t, rec.Content, last.Content)
		assert.Equal(t, i+1, h.TotalCount)

		read, err := st.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, h.Contents(), read.Contents())
	}
}

func TestStore_TimestampsStrictlyIncrease(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return frozen })

	h := appendN(t, st, key, 4)
	for i := 1; i < len(h.Records); i++ {
		assert.True(t, h.Records[i].Timestamp.After(h.Records[i-1].Timestamp), "record %d", i)
	}
}

func TestStore_Delete(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})
	ctx := context.Background()
	appendN(t, st, key, 3)

	existed, err := st.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)

	h, err := st.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, h.IsEmpty())
	assert.Equal(t, 0, h.TotalCount)

	existed, err = st.Delete(ctx, key)
	require.NoError(t, err, "deleting a missing key is not an error")
	assert.False(t, existed)
}

func TestStore_InvalidKey(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})

	_, err := st.Read(context.Background(), history.ConversationKey{UserID: "u"})
	assert.ErrorIs(t, err, history.ErrInvalidKey)
	_, err = st.Append(context.Background(), history.ConversationKey{PostID: "p"}, history.ReplyRecord{Content: "x"})
	assert.ErrorIs(t, err, history.ErrInvalidKey)
}

func TestStore_UpdateErrorWritesNothing(t *testing.T) {
	st, backend := newStore(t, &fakeSummaryGen{}, history.Config{})
	boom := errors.New("generation failed")

	_, _, err := st.Update(context.Background(), key, func(_ context.Context, h *history.ReplyHistory) (history.ReplyRecord, error) {
		h.Records = append(h.Records, history.ReplyRecord{Content: "seeded"})
		return history.ReplyRecord{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.Len(), "aborted update must not persist")
}

func TestStore_KeysAreIsolated(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})
	other := history.ConversationKey{UserID: "u1", PostID: "p2"}

	appendN(t, st, key, 2)
	appendN(t, st, other, 1)

	h, _ := st.Read(context.Background(), key)
	assert.Equal(t, 2, h.TotalCount)
	h, _ = st.Read(context.Background(), other)
	assert.Equal(t, 1, h.TotalCount)
}

// =============================================================================
// SUMMARIZATION
// =============================================================================

func TestStore_NoSummaryAtThreshold(t *testing.T) {
	gen := &fakeSummaryGen{}
	st, _ := newStore(t, gen, history.Config{})

	h := appendN(t, st, key, 20)
	assert.Len(t, h.Records, 20)
	assert.Empty(t, h.Summary)
	assert.Equal(t, int32(0), gen.calls.Load(), "threshold is exclusive")
}

func TestStore_SummarizesBeyondThreshold(t *testing.T) {
	gen := &fakeSummaryGen{}
	st, _ := newStore(t, gen, history.Config{})

	h := appendN(t, st, key, 21)
	assert.Len(t, h.Records, 20)
	assert.NotEmpty(t, h.Summary)
	assert.Equal(t, 21, h.TotalCount)
	assert.Equal(t, 1, h.SummarizedCount)
	assert.Equal(t, "reply 1", h.Records[0].Content, "oldest record collapsed")
	assert.Equal(t, "reply 20", h.Records[19].Content)
	assert.Contains(t, gen.lastPrompt().User, "reply 0")
}

func TestStore_BoundHoldsOnceSummaryExists(t *testing.T) {
	gen := &fakeSummaryGen{}
	st, _ := newStore(t, gen, history.Config{})
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		h, err := st.Append(ctx, key, history.ReplyRecord{Content: fmt.Sprintf("r%d", i)})
		require.NoError(t, err)
		if h.Summary != "" {
			assert.LessOrEqual(t, len(h.Records), 20)
		}
		last, _ := h.Last()
		assert.Equal(t, fmt.Sprintf("r%d", i), last.Content)
	}

	h, _ := st.Read(ctx, key)
	assert.Equal(t, 45, h.TotalCount)
	assert.Equal(t, 25, h.SummarizedCount)
	assert.Contains(t, gen.lastPrompt().User, "Previous summary:", "prior summary is carried into regeneration")
}

func TestStore_KeepRecentBatchesCollapse(t *testing.T) {
	gen := &fakeSummaryGen{}
	st, _ := newStore(t, gen, history.Config{MaxRecords: 20, KeepRecent: 10})

	h := appendN(t, st, key, 21)
	assert.Len(t, h.Records, 10)
	assert.Equal(t, 11, h.SummarizedCount)

	h = appendN(t, st, key, 10)
	assert.Len(t, h.Records, 20)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestStore_SummarizationFailureIsNonFatal(t *testing.T) {
	gen := &fakeSummaryGen{}
	gen.fail.Store(true)
	st, _ := newStore(t, gen, history.Config{})

	var outcomes []error
	st.OnSummarize(func(err error) { outcomes = append(outcomes, err) })

	h := appendN(t, st, key, 21)
	assert.Len(t, h.Records, 21, "record persisted despite failed summary")
	assert.Empty(t, h.Summary)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0], history.ErrSummarizationFailed)

	// Scenario: 21 prior records, the next append summarizes successfully.
	gen.fail.Store(false)
	h = appendN(t, st, key, 1)
	assert.LessOrEqual(t, len(h.Records), 20)
	assert.NotEmpty(t, h.Summary)
	assert.Equal(t, 2, h.SummarizedCount)
	assert.Equal(t, 22, h.TotalCount)
	assert.NoError(t, outcomes[1])
}

func TestStore_EmptySummaryCountsAsFailure(t *testing.T) {
	gen := external.GeneratorFunc(func(context.Context, external.Prompt, int) (string, error) {
		return "   ", nil
	})
	st, _ := newStore(t, gen, history.Config{})

	var last error
	st.OnSummarize(func(err error) { last = err })
	h := appendN(t, st, key, 21)
	assert.Len(t, h.Records, 21)
	assert.ErrorIs(t, last, history.ErrSummarizationFailed)
}

func TestSummarizer_TruncatesOutput(t *testing.T) {
	gen := external.GeneratorFunc(func(context.Context, external.Prompt, int) (string, error) {
		return strings.Repeat("长", 500), nil
	})
	s := history.NewSummarizer(gen, 100)

	out, err := s.Summarize(context.Background(), "", []history.ReplyRecord{{Content: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 100, len([]rune(out)))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestStore_ConcurrentAppendsNeverLoseUpdates(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})
	const n = 60

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.Append(context.Background(), key, history.ReplyRecord{Content: fmt.Sprintf("c%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	h, err := st.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, n, h.TotalCount)
	assert.Equal(t, n, h.SummarizedCount+len(h.Records))
}

func TestStore_SharedBackendRejectsStaleCommit(t *testing.T) {
	// Two stores on one backend stand in for two gateway processes: their
	// key locks are independent, so only the conditional write orders them.
	backend := store.NewMemoryStore()
	t.Cleanup(func() { backend.Close() })
	a := history.NewStore(backend, nil, history.Config{}, history.StoreOptions{})
	b := history.NewStore(backend, nil, history.Config{}, history.StoreOptions{})
	ctx := context.Background()
	appendN(t, a, key, 1)

	_, _, err := a.Update(ctx, key, func(context.Context, *history.ReplyHistory) (history.ReplyRecord, error) {
		_, err := b.Append(ctx, key, history.ReplyRecord{Content: "from b"})
		require.NoError(t, err)
		return history.ReplyRecord{Content: "from a"}, nil
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := a.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"reply 0", "from b"}, got.Contents())
	assert.Equal(t, 2, got.TotalCount)
}

func TestStore_LockWaitHonoursContext(t *testing.T) {
	st, _ := newStore(t, &fakeSummaryGen{}, history.Config{})
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = st.Update(context.Background(), key, func(context.Context, *history.ReplyHistory) (history.ReplyRecord, error) {
			close(entered)
			<-release
			return history.ReplyRecord{Content: "slow"}, nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := st.Append(ctx, key, history.ReplyRecord{Content: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

// =============================================================================
// BACKEND UNAVAILABILITY
// =============================================================================

type downBackend struct{ *store.MemoryStore }

func (downBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("dial: %w", store.ErrBackendUnavailable)
}

func TestStore_UnavailableSurfacedByDefault(t *testing.T) {
	backend := downBackend{store.NewMemoryStore()}
	defer backend.Close()
	st := history.NewStore(backend, nil, history.Config{}, history.StoreOptions{})

	_, err := st.Read(context.Background(), key)
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
	_, err = st.Append(context.Background(), key, history.ReplyRecord{Content: "x"})
	assert.ErrorIs(t, err, store.ErrBackendUnavailable)
}

func TestStore_UnavailableToleratedOnRead(t *testing.T) {
	backend := downBackend{store.NewMemoryStore()}
	defer backend.Close()
	st := history.NewStore(backend, nil, history.Config{}, history.StoreOptions{TolerateUnavailable: true})

	h, err := st.Read(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, h.IsEmpty())
}

func TestReplyHistory_EncodesUpdatedAt(t *testing.T) {
	raw, err := json.Marshal(history.ReplyHistory{})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"updated_at":"0001-01-01T00:00:00Z"`)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	raw, err = json.Marshal(history.ReplyHistory{UpdatedAt: at})
	require.NoError(t, err)

	var back history.ReplyHistory
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, at.Equal(back.UpdatedAt))
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := history.Config{}.WithDefaults()
	assert.Equal(t, 20, cfg.MaxRecords)
	assert.Equal(t, 20, cfg.KeepRecent)
	assert.Equal(t, 300, cfg.SummaryMaxChars)
	assert.NoError(t, cfg.Validate())

	bad := history.Config{MaxRecords: 10, KeepRecent: 11, SummaryMaxChars: 10}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keep_recent")
}

func TestConversationKey_StorageKeyEscapes(t *testing.T) {
	a := history.ConversationKey{UserID: "a:b", PostID: "c"}
	b := history.ConversationKey{UserID: "a", PostID: "b:c"}
	assert.NotEqual(t, a.StorageKey(), b.StorageKey())
	assert.True(t, strings.HasPrefix(a.StorageKey(), "reply:history:"))
}
