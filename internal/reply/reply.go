// Package reply coordinates reply generation.
//
// FLOW: parse style -> analyze post emotion -> (per-key critical section:
// load history, seed from caller context if the store has none, choose
// template, call generator, enforce compliance, append) -> return the
// committed record.
//
// FAILURES: InvalidStyle aborts before any call. GenerationFailed (including
// a commit lost to a writer in another process) and ContentRejected abort
// with nothing written, so a request is always safe to retry.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/reply-gateway/external"
	"github.com/compresr/reply-gateway/internal/compliance"
	"github.com/compresr/reply-gateway/internal/emotion"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/monitoring"
	"github.com/compresr/reply-gateway/internal/store"
	"github.com/compresr/reply-gateway/internal/strategy"
)

var (
	// ErrGenerationFailed wraps generator failures and timeouts.
	ErrGenerationFailed = errors.New("reply: generation failed")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("reply: invalid request")
)

// Request asks for one reply.
type Request struct {
	Key             history.ConversationKey
	PostContent     string
	Style           string
	PreviousReplies []string // Used only when the store has no history for Key
}

// Result is a committed reply with the emotion read from its post.
type Result struct {
	history.ReplyRecord
	Emotion emotion.Result
}

// Options configure an Orchestrator.
type Options struct {
	RequestTimeout time.Duration // Bounds a whole GenerateReply (0 = none)
	Metrics        *monitoring.Metrics
}

// Orchestrator generates and records replies.
type Orchestrator struct {
	history   *history.Store
	selector  *strategy.Selector
	filter    *compliance.Filter
	generator external.Generator
	opts      Options
}

// New creates an orchestrator.
func New(h *history.Store, sel *strategy.Selector, filter *compliance.Filter, gen external.Generator, opts Options) *Orchestrator {
	return &Orchestrator{
		history:   h,
		selector:  sel,
		filter:    filter,
		generator: gen,
		opts:      opts,
	}
}

// GenerateReply produces, records and returns a reply for req.
func (o *Orchestrator) GenerateReply(ctx context.Context, req Request) (*Result, error) {
	res, err := o.generate(ctx, req)
	o.opts.Metrics.RecordReply(Classify(err))
	return res, err
}

func (o *Orchestrator) generate(ctx context.Context, req Request) (*Result, error) {
	style, err := strategy.ParseStyle(req.Style)
	if err != nil {
		return nil, err
	}
	if err := req.Key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.PostContent) == "" {
		return nil, fmt.Errorf("%w: circle_content is required", ErrInvalidRequest)
	}

	mood := emotion.Analyze(req.PostContent)

	if o.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RequestTimeout)
		defer cancel()
	}

	rec, _, err := o.history.Update(ctx, req.Key, func(ctx context.Context, current *history.ReplyHistory) (history.ReplyRecord, error) {
		if current.TotalCount == 0 && len(req.PreviousReplies) > 0 {
			o.seed(req.Key, current, req.PreviousReplies)
		}
		return o.produce(ctx, req, style, mood, current)
	})
	if err != nil {
		// A deadline or cancellation while waiting on the key lock or the
		// backend, or losing the commit to another process, counts as a
		// failed generation: nothing was written.
		if !errors.Is(err, ErrGenerationFailed) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, store.ErrConflict)) {
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		return nil, err
	}

	log.Debug().
		Str("request_id", monitoring.RequestIDFromContext(ctx)).
		Str("user_id", req.Key.UserID).
		Str("post_id", req.Key.PostID).
		Str("style", style.String()).
		Bool("is_first", rec.IsFirst).
		Str("emotion", mood.Type).
		Int("negative_score", mood.NegativeScore).
		Msg("reply recorded")
	return &Result{ReplyRecord: *rec, Emotion: mood}, nil
}

// produce runs inside the key's critical section.
func (o *Orchestrator) produce(ctx context.Context, req Request, style strategy.Style, mood emotion.Result, current *history.ReplyHistory) (history.ReplyRecord, error) {
	isFirst := current.IsEmpty()

	tmpl, err := o.selector.Choose(style, isFirst, current)
	if err != nil {
		return history.ReplyRecord{}, err
	}
	prompt := tmpl.Render(req.PostContent, mood)

	start := time.Now()
	raw, err := o.generator.Complete(ctx, prompt.Prompt, prompt.MaxOutputChars)
	o.opts.Metrics.ObserveGeneration(time.Since(start))
	if err != nil {
		return history.ReplyRecord{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	content, err := o.filter.Enforce(raw)
	if err != nil {
		return history.ReplyRecord{}, err
	}
	return history.ReplyRecord{Content: content, IsFirst: isFirst}, nil
}

// seed adds caller-supplied prior replies to an empty history. Each goes
// through compliance; rejected ones are dropped.
func (o *Orchestrator) seed(key history.ConversationKey, current *history.ReplyHistory, previous []string) {
	now := time.Now()
	dropped := 0
	for _, p := range previous {
		content, err := o.filter.Enforce(p)
		if err != nil {
			dropped++
			continue
		}
		current.Records = append(current.Records, history.ReplyRecord{
			Content:   content,
			Timestamp: current.NextTimestamp(now),
			IsFirst:   len(current.Records) == 0,
		})
		current.TotalCount++
	}

	if dropped > 0 {
		log.Debug().
			Str("user_id", key.UserID).
			Str("post_id", key.PostID).
			Int("dropped", dropped).
			Msg("dropped non-compliant previous replies")
	}
}

// History returns the stored history for key.
func (o *Orchestrator) History(ctx context.Context, key history.ConversationKey) (*history.ReplyHistory, error) {
	return o.history.Read(ctx, key)
}

// DeleteHistory removes the history for key.
func (o *Orchestrator) DeleteHistory(ctx context.Context, key history.ConversationKey) (bool, error) {
	return o.history.Delete(ctx, key)
}

// Health pings the storage backend.
func (o *Orchestrator) Health(ctx context.Context) error {
	return o.history.Ping(ctx)
}

// Classify maps an error from this package to a monitoring outcome.
func Classify(err error) monitoring.Outcome {
	switch {
	case err == nil:
		return monitoring.OutcomeSuccess
	case errors.Is(err, strategy.ErrInvalidStyle):
		return monitoring.OutcomeInvalidStyle
	case errors.Is(err, compliance.ErrContentRejected):
		return monitoring.OutcomeContentRejected
	case errors.Is(err, ErrGenerationFailed):
		return monitoring.OutcomeGenerationFailed
	case errors.Is(err, store.ErrBackendUnavailable):
		return monitoring.OutcomeBackendUnavailable
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, history.ErrInvalidKey):
		return monitoring.OutcomeInvalidRequest
	}
	return monitoring.OutcomeError
}
