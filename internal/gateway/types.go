// Package gateway types - wire types for the reply HTTP API.
//
// DESIGN: Types used by the gateway for:
//   - Request/response bodies of the /v1 endpoints
//   - The uniform error envelope
//   - Limits and header names
//
// Types are defined here to keep handlers small and provide clear contracts.
package gateway

import (
	"time"

	"github.com/compresr/reply-gateway/internal/emotion"
	"github.com/compresr/reply-gateway/internal/history"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// HeaderRequestID carries the request id in and out.
	HeaderRequestID = "X-Request-ID"

	// MaxRequestBodySize bounds a decoded JSON body.
	MaxRequestBodySize = 64 << 10

	// MaxRateLimitBuckets bounds the per-IP limiter map.
	MaxRateLimitBuckets = 10000
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidStyle       = "invalid_style"
	CodeContentRejected    = "content_rejected"
	CodeGenerationFailed   = "generation_failed"
	CodeBackendUnavailable = "backend_unavailable"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// =============================================================================
// REPLIES
// =============================================================================

// ReplyRequest is the body of POST /v1/replies.
type ReplyRequest struct {
	UserID          string   `json:"user_id"`
	PostID          string   `json:"post_id"`
	CircleContent   string   `json:"circle_content"`
	ReplyStyle      string   `json:"reply_style"`
	PreviousReplies []string `json:"previous_replies,omitempty"`
}

// ReplyResponse is returned for a generated reply.
type ReplyResponse struct {
	Content         string         `json:"content"`
	IsFirstReply    bool           `json:"is_first_reply"`
	Timestamp       time.Time      `json:"timestamp"`
	EmotionAnalysis emotion.Result `json:"emotion_analysis"`
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryResponse is the body of GET /v1/history/{user_id}/{post_id}.
type HistoryResponse struct {
	UserID     string `json:"user_id"`
	PostID     string `json:"post_id"`
	ReplyCount int    `json:"reply_count"`
	*history.ReplyHistory
}

// DeleteResponse is the body of DELETE /v1/history/{user_id}/{post_id}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// =============================================================================
// ADS AND HEALTH
// =============================================================================

// AdDetectionRequest is the body of POST /v1/ad-detection.
type AdDetectionRequest struct {
	UserID        string `json:"user_id"`
	PostID        string `json:"post_id"`
	CircleContent string `json:"circle_content"`
}

// AdDetectionResponse reports the advert verdict.
type AdDetectionResponse struct {
	IsAd         bool      `json:"is_ad"`
	ResponseText string    `json:"response_text"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Backend   string    `json:"backend"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorBody is the error detail.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
