// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:         Warn when request exceeds threshold
//   - FlagGenerationFailure:   Error when the generator fails a reply
//   - FlagBackendUnavailable:  Error when storage is unreachable
//   - FlagInvalidRequest:      Debug on undecodable requests
//   - FlagPanic:               Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.HighLatencyThreshold
	if threshold == 0 {
		threshold = 5 * time.Second
	}
	return &AlertManager{logger: logger, highLatencyThreshold: threshold}
}

// FlagHighLatency logs when request latency exceeds threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, path string) {
	if latency < am.highLatencyThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("path", path).
		Msg("high_latency")
}

// FlagGenerationFailure logs a failed generator call.
func (am *AlertManager) FlagGenerationFailure(requestID, userID, postID string, err error) {
	am.logger.Error().
		Str("request_id", requestID).
		Str("user_id", userID).
		Str("post_id", postID).
		Err(err).
		Msg("generation_failed")
}

// FlagBackendUnavailable logs an unreachable storage backend.
func (am *AlertManager) FlagBackendUnavailable(requestID string, err error) {
	am.logger.Error().
		Str("request_id", requestID).
		Err(err).
		Msg("backend_unavailable")
}

// FlagInvalidRequest logs invalid request.
func (am *AlertManager) FlagInvalidRequest(requestID, reason string) {
	am.logger.Debug().
		Str("request_id", requestID).
		Str("reason", reason).
		Msg("invalid_request")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}
