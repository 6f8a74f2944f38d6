package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/reply-gateway/external"
	"github.com/compresr/reply-gateway/internal/config"
	"github.com/compresr/reply-gateway/internal/store"
	"github.com/compresr/reply-gateway/internal/tokens"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.Default()
	cfg.Generator.APIKey = "sk-test"
	cfg.Strategy.Encoding = tokens.HeuristicEncoding
	cfg.Monitoring.LogLevel = "error"
	cfg.Monitoring.LogFormat = "json"

	gen := external.GeneratorFunc(func(context.Context, external.Prompt, int) (string, error) { return "ok", nil })
	g, err := NewWithDependencies(cfg, store.NewMemoryStore(), gen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

// =============================================================================
// PANIC RECOVERY
// =============================================================================

func TestPanicRecovery(t *testing.T) {
	g := newTestGateway(t)
	h := g.loggingMiddleware(g.panicRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInternal)
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

// =============================================================================
// RATE LIMITER
// =============================================================================

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(t *testing.T, rate int) (*rateLimiter, *fakeClock) {
	t.Helper()
	rl := newRateLimiter(rate)
	t.Cleanup(rl.close)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := newRateLimiter(0)
	defer rl.close()
	for i := 0; i < 100; i++ {
		ok, _ := rl.allow("10.0.0.1")
		assert.True(t, ok)
	}
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, clock := newClockedLimiter(t, 2)

	ok, _ := rl.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := rl.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	ok, _ = rl.allow("10.0.0.2")
	assert.True(t, ok, "buckets are per IP")

	clock.advance(500 * time.Millisecond)
	ok, _ = rl.allow("10.0.0.1")
	assert.True(t, ok, "half a second refills one token at rate 2")
}

func TestRateLimiter_FractionalRefillAccumulates(t *testing.T) {
	rl, clock := newClockedLimiter(t, 10)

	for i := 0; i < 10; i++ {
		ok, _ := rl.allow("ip")
		require.True(t, ok)
	}

	// Sub-token refills are kept, not rounded away.
	for i := 0; i < 9; i++ {
		clock.advance(10 * time.Millisecond)
		ok, _ := rl.allow("ip")
		assert.False(t, ok)
	}
	clock.advance(20 * time.Millisecond)
	ok, _ := rl.allow("ip")
	assert.True(t, ok)
}

func TestRateLimiter_EvictsIdlest(t *testing.T) {
	rl, clock := newClockedLimiter(t, 5)
	rl.maxBuckets = 2

	rl.allow("a")
	clock.advance(time.Second)
	rl.allow("b")
	clock.advance(time.Second)
	rl.allow("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.buckets, 2)
	assert.NotContains(t, rl.buckets, "a")
}

func TestRateLimiter_SweepRemovesIdleBuckets(t *testing.T) {
	rl, clock := newClockedLimiter(t, 5)

	rl.allow("old")
	clock.advance(bucketIdleTTL + time.Second)
	rl.allow("new")
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "old")
	assert.Contains(t, rl.buckets, "new")
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := newRateLimiter(1)
	rl.close()
	rl.close()
}

// =============================================================================
// CLIENT IP
// =============================================================================

func TestGetClientIP(t *testing.T) {
	g := newTestGateway(t)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "203.0.113.7:5000", "", "203.0.113.7"},
		{"forwarded header ignored from remote", "203.0.113.7:5000", "198.51.100.1", "203.0.113.7"},
		{"forwarded from local proxy", "127.0.0.1:5000", "198.51.100.1, 10.0.0.1", "198.51.100.1"},
		{"local proxy without header", "[::1]:5000", "", "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, g.getClientIP(r))
		})
	}
}

func TestErrorStatus_Default(t *testing.T) {
	status, code := errorStatus(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, code)
}

func keyRequest(rawPath, userID, postID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/history/x/y", nil)
	r.URL.RawPath = rawPath
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("user_id", userID)
	rctx.URLParams.Add("post_id", postID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestConversationKey(t *testing.T) {
	key, err := conversationKey(keyRequest("", "100%", "p1"))
	require.NoError(t, err)
	assert.Equal(t, "100%", key.UserID)

	key, err = conversationKey(keyRequest("/v1/history/team%2Falice/p%2F1", "team%2Falice", "p%2F1"))
	require.NoError(t, err)
	assert.Equal(t, "team/alice", key.UserID)
	assert.Equal(t, "p/1", key.PostID)

	_, err = conversationKey(keyRequest("/v1/history/bad%zz/p1", "bad%zz", "p1"))
	assert.Error(t, err)
	_, err = conversationKey(keyRequest("/v1/history/u1/bad%zz", "u1", "bad%zz"))
	assert.Error(t, err)
}

func TestHandleGetHistory_BadEscape(t *testing.T) {
	g := newTestGateway(t)
	rec := httptest.NewRecorder()
	g.handleGetHistory().ServeHTTP(rec, keyRequest("/v1/history/bad%zz/p1", "bad%zz", "p1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInvalidRequest)
}
