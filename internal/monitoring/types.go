// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by gateway/, reply/ and monitoring/.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - Outcome:       Classification of a reply request
//   - ReplyEvent:    Telemetry data for each reply request
//   - Config types:  TelemetryConfig, LoggerConfig, AlertConfig
package monitoring

import "time"

// =============================================================================
// OUTCOMES - Used by metrics and telemetry
// =============================================================================

// Outcome classifies how a reply request ended.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeInvalidStyle       Outcome = "invalid_style"
	OutcomeContentRejected    Outcome = "content_rejected"
	OutcomeGenerationFailed   Outcome = "generation_failed"
	OutcomeBackendUnavailable Outcome = "backend_unavailable"
	OutcomeInvalidRequest     Outcome = "invalid_request"
	OutcomeError              Outcome = "error"
)

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// ReplyEvent captures one reply request through the gateway.
type ReplyEvent struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	PostID       string    `json:"post_id"`
	Style        string    `json:"style"`
	IsFirst      bool      `json:"is_first"`
	Outcome      Outcome   `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	ContentChars int       `json:"content_chars"`
	LatencyMs    int64     `json:"latency_ms"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"`
}
