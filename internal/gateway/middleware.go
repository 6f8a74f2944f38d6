// HTTP middleware for request tracing, recovery, rate limiting and headers.
//
// DESIGN: Middleware chain (applied in order):
//  1. loggingMiddleware: Request ID, access log, HTTP metrics, latency alert
//  2. panicRecovery:     Catch panics, return 500, alert with stack trace
//  3. rateLimit:         Per-IP token bucket rate limiting
//  4. security:          Security headers, CORS
package gateway

import (
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/reply-gateway/internal/monitoring"
)

// Rate limiter housekeeping.
const (
	bucketIdleTTL        = 10 * time.Minute
	bucketCleanupPeriod  = 5 * time.Minute
	maxForwardedHeaderIP = 64
)

// responseWriter records the status code and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// =============================================================================
// RATE LIMITER
// =============================================================================

// rateLimiter is a per-IP token bucket refilled continuously at rate tokens
// per second, with burst equal to rate.
type rateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64
	maxBuckets int
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// newRateLimiter creates a limiter allowing rate requests per second per IP.
// A rate of 0 disables limiting.
func newRateLimiter(rate int) *rateLimiter {
	rl := &rateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       float64(rate),
		maxBuckets: MaxRateLimitBuckets,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if rate > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// close stops the cleanup goroutine. Safe to call more than once.
func (rl *rateLimiter) close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// allow takes one token from ip's bucket. When the bucket is empty it
// returns false and the wait until the next token.
func (rl *rateLimiter) allow(ip string) (bool, time.Duration) {
	if rl.rate <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= rl.maxBuckets {
			rl.evictIdlest()
		}
		b = &bucket{tokens: rl.rate, lastSeen: now}
		rl.buckets[ip] = b
	} else {
		b.tokens = math.Min(rl.rate, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
		b.lastSeen = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return false, wait
}

// evictIdlest drops the bucket seen least recently. Caller holds mu.
func (rl *rateLimiter) evictIdlest() {
	var idlest string
	var oldest time.Time
	for ip, b := range rl.buckets {
		if idlest == "" || b.lastSeen.Before(oldest) {
			idlest, oldest = ip, b.lastSeen
		}
	}
	delete(rl.buckets, idlest)
}

// sweep removes buckets idle for longer than bucketIdleTTL.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-bucketIdleTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(bucketCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// loggingMiddleware assigns the request id and records every response.
func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		r = r.WithContext(monitoring.WithRequestIDContext(r.Context(), requestID))

		bodySize := int(r.ContentLength)
		if bodySize < 0 {
			bodySize = 0
		}
		g.requestLogger.LogIncoming(monitoring.NewRequestInfo(r, requestID, bodySize))

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		latency := time.Since(start)

		g.requestLogger.LogResponse(&monitoring.ResponseInfo{
			RequestID:  requestID,
			StatusCode: wrapped.status,
			Latency:    latency,
		})
		g.metrics.RecordHTTP(r.Method, wrapped.status)
		g.alerts.FlagHighLatency(requestID, latency, r.URL.Path)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Int("bytes", wrapped.bytes).
			Dur("duration", latency).
			Msg("request")
	})
}

// panicRecovery turns a handler panic into a 500 without echoing the value.
func (g *Gateway) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				g.alerts.FlagPanic(monitoring.RequestIDFromContext(r.Context()), v, string(debug.Stack()))
				g.writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit enforces the per-IP budget.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.getClientIP(r)
		if ok, wait := g.rateLimiter.allow(ip); !ok {
			log.Warn().Str("ip", ip).Dur("retry_after", wait).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			g.writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// security adds security headers and answers CORS preflight requests.
func (g *Gateway) security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")

		if origin := r.Header.Get("Origin"); origin != "" && isAllowedOrigin(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin permits local development origins only.
func isAllowedOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}

// getClientIP returns the caller address. Forwarding headers are honoured
// only when the direct peer is a local reverse proxy.
func (g *Gateway) getClientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if remote != "127.0.0.1" && remote != "::1" {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" && len(ip) <= maxForwardedHeaderIP {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && len(xri) <= maxForwardedHeaderIP {
		return xri
	}
	return remote
}
