// Package monitoring - request_logger.go logs HTTP request lifecycle.
//
// DESIGN: Structured logging for request tracing at DEBUG level:
//   - LogIncoming:  Request received from client
//   - LogReply:     Reply generated (or refused) for a conversation
//   - LogResponse:  Response sent to client
package monitoring

import (
	"net/http"
	"time"
)

// RequestLogger logs HTTP request lifecycle events.
type RequestLogger struct {
	logger *Logger
}

// NewRequestLogger creates a new request logger.
func NewRequestLogger(logger *Logger) *RequestLogger {
	return &RequestLogger{logger: logger}
}

// RequestInfo contains incoming request information.
type RequestInfo struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	BodySize   int
	StartTime  time.Time
}

// NewRequestInfo creates RequestInfo from an HTTP request.
func NewRequestInfo(r *http.Request, requestID string, bodySize int) *RequestInfo {
	return &RequestInfo{
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		BodySize:   bodySize,
		StartTime:  time.Now(),
	}
}

// LogIncoming logs an incoming request.
func (rl *RequestLogger) LogIncoming(info *RequestInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Str("method", info.Method).
		Str("path", info.Path).
		Int("body_size", info.BodySize).
		Msg("incoming")
}

// ReplyInfo describes one handled reply request.
type ReplyInfo struct {
	RequestID string
	UserID    string
	PostID    string
	Style     string
	IsFirst   bool
	Outcome   Outcome
	Err       error
	Latency   time.Duration
}

// LogReply logs a reply outcome. Failures log at WARN.
func (rl *RequestLogger) LogReply(info *ReplyInfo) {
	event := rl.logger.Debug()
	if info.Err != nil {
		event = rl.logger.Warn().Err(info.Err)
	}
	event.
		Str("request_id", info.RequestID).
		Str("user_id", info.UserID).
		Str("post_id", info.PostID).
		Str("style", info.Style).
		Bool("is_first", info.IsFirst).
		Str("outcome", string(info.Outcome)).
		Dur("latency", info.Latency).
		Msg("reply")
}

// ResponseInfo contains response information.
type ResponseInfo struct {
	RequestID  string
	StatusCode int
	Latency    time.Duration
}

// LogResponse logs a response.
func (rl *RequestLogger) LogResponse(info *ResponseInfo) {
	rl.logger.Debug().
		Str("request_id", info.RequestID).
		Int("status", info.StatusCode).
		Dur("latency", info.Latency).
		Msg("response")
}
