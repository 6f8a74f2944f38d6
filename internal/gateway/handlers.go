package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/compresr/reply-gateway/internal/compliance"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/monitoring"
	"github.com/compresr/reply-gateway/internal/reply"
	"github.com/compresr/reply-gateway/internal/store"
	"github.com/compresr/reply-gateway/internal/strategy"
)

// handleGenerateReply generates and records one reply.
func (g *Gateway) handleGenerateReply() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := monitoring.RequestIDFromContext(r.Context())

		var req ReplyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			g.alerts.FlagInvalidRequest(requestID, err.Error())
			g.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}

		res, err := g.orchestrator.GenerateReply(r.Context(), reply.Request{
			Key:             history.ConversationKey{UserID: req.UserID, PostID: req.PostID},
			PostContent:     req.CircleContent,
			Style:           req.ReplyStyle,
			PreviousReplies: req.PreviousReplies,
		})
		var rec *history.ReplyRecord
		if res != nil {
			rec = &res.ReplyRecord
		}
		g.observeReply(requestID, req, rec, err, time.Since(start))
		if err != nil {
			g.writeDomainError(w, requestID, req, err)
			return
		}

		g.writeJSON(w, http.StatusOK, ReplyResponse{
			Content:         res.Content,
			IsFirstReply:    res.IsFirst,
			Timestamp:       res.Timestamp,
			EmotionAnalysis: res.Emotion,
		})
	}
}

// handleGetHistory returns the full history of a conversation.
func (g *Gateway) handleGetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := conversationKey(r)
		if err != nil {
			g.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		h, err := g.orchestrator.History(r.Context(), key)
		if err != nil {
			g.writeDomainError(w, monitoring.RequestIDFromContext(r.Context()), ReplyRequest{UserID: key.UserID, PostID: key.PostID}, err)
			return
		}
		if h.Records == nil {
			h.Records = []history.ReplyRecord{}
		}

		g.writeJSON(w, http.StatusOK, HistoryResponse{
			UserID:       key.UserID,
			PostID:       key.PostID,
			ReplyCount:   len(h.Records),
			ReplyHistory: h,
		})
	}
}

// handleDeleteHistory removes a conversation. Deleting a missing key is
// not an error.
func (g *Gateway) handleDeleteHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := conversationKey(r)
		if err != nil {
			g.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		existed, err := g.orchestrator.DeleteHistory(r.Context(), key)
		if err != nil {
			g.writeDomainError(w, monitoring.RequestIDFromContext(r.Context()), ReplyRequest{UserID: key.UserID, PostID: key.PostID}, err)
			return
		}
		g.writeJSON(w, http.StatusOK, DeleteResponse{Deleted: existed})
	}
}

// handleDetectAd scores a post for advertising.
func (g *Gateway) handleDetectAd() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdDetectionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			g.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.CircleContent) == "" {
			g.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "circle_content is required")
			return
		}

		res := g.detector.Detect(req.CircleContent)
		log.Debug().
			Str("request_id", monitoring.RequestIDFromContext(r.Context())).
			Str("user_id", req.UserID).
			Str("post_id", req.PostID).
			Bool("is_ad", res.IsAd).
			Strs("matched", res.Matched).
			Msg("ad detection")

		g.writeJSON(w, http.StatusOK, AdDetectionResponse{
			IsAd:         res.IsAd,
			ResponseText: res.ResponseText,
			Confidence:   res.Confidence,
			Timestamp:    time.Now().UTC(),
		})
	}
}

// handleHealth reports backend reachability.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "healthy", Backend: "connected", Timestamp: time.Now().UTC()}
		status := http.StatusOK
		if err := g.orchestrator.Health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check: backend unreachable")
			resp.Status, resp.Backend = "degraded", "disconnected"
			status = http.StatusServiceUnavailable
		}
		g.writeJSON(w, status, resp)
	}
}

// observeReply feeds the request logger, telemetry and alerts.
func (g *Gateway) observeReply(requestID string, req ReplyRequest, rec *history.ReplyRecord, err error, latency time.Duration) {
	outcome := reply.Classify(err)
	info := &monitoring.ReplyInfo{
		RequestID: requestID,
		UserID:    req.UserID,
		PostID:    req.PostID,
		Style:     req.ReplyStyle,
		Outcome:   outcome,
		Err:       err,
		Latency:   latency,
	}
	event := &monitoring.ReplyEvent{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		UserID:    req.UserID,
		PostID:    req.PostID,
		Style:     req.ReplyStyle,
		Outcome:   outcome,
		LatencyMs: latency.Milliseconds(),
	}
	if rec != nil {
		info.IsFirst = rec.IsFirst
		event.IsFirst = rec.IsFirst
		event.ContentChars = utf8.RuneCountInString(rec.Content)
	}
	if err != nil {
		event.Error = err.Error()
	}

	g.requestLogger.LogReply(info)
	g.tracker.RecordReply(event)

	switch outcome {
	case monitoring.OutcomeGenerationFailed:
		g.alerts.FlagGenerationFailure(requestID, req.UserID, req.PostID, err)
	case monitoring.OutcomeBackendUnavailable:
		g.alerts.FlagBackendUnavailable(requestID, err)
	}
}

// errorStatus maps the error taxonomy to HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, strategy.ErrInvalidStyle):
		return http.StatusBadRequest, CodeInvalidStyle
	case errors.Is(err, reply.ErrInvalidRequest), errors.Is(err, history.ErrInvalidKey):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, compliance.ErrContentRejected):
		return http.StatusUnprocessableEntity, CodeContentRejected
	case errors.Is(err, reply.ErrGenerationFailed):
		return http.StatusBadGateway, CodeGenerationFailed
	case errors.Is(err, store.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, CodeBackendUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeDomainError writes err with its mapped status. Internal errors are
// logged and not echoed.
func (g *Gateway) writeDomainError(w http.ResponseWriter, requestID string, req ReplyRequest, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", requestID).
			Str("user_id", req.UserID).
			Str("post_id", req.PostID).
			Msg("request failed")
		message = "internal error"
	}
	g.writeError(w, status, code, message)
}

// writeError writes the error envelope.
func (g *Gateway) writeError(w http.ResponseWriter, status int, code, message string) {
	g.writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// decodeJSON decodes a bounded request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// conversationKey reads the key from the path. chi routes on the escaped
// RawPath when the URL has one, so only then are the segments unescaped to
// match the ids POST /v1/replies takes from its body.
func conversationKey(r *http.Request) (history.ConversationKey, error) {
	userID, postID := chi.URLParam(r, "user_id"), chi.URLParam(r, "post_id")
	if r.URL.RawPath == "" {
		return history.ConversationKey{UserID: userID, PostID: postID}, nil
	}

	var err error
	if userID, err = url.PathUnescape(userID); err != nil {
		return history.ConversationKey{}, fmt.Errorf("invalid user_id: %w", err)
	}
	if postID, err = url.PathUnescape(postID); err != nil {
		return history.ConversationKey{}, fmt.Errorf("invalid post_id: %w", err)
	}
	return history.ConversationKey{UserID: userID, PostID: postID}, nil
}
