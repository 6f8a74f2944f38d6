// Package gateway is the HTTP surface of the reply service.
//
// DESIGN: The gateway owns process-level wiring. It builds every component
// from config (backend, history store, strategy, compliance, generator, ad
// detector), mounts them behind the chi router and exposes Start/Shutdown
// for the CLI.
//
// FILES:
//   - gateway.go:    Construction and lifecycle
//   - router.go:     Routes and middleware order
//   - handlers.go:   Endpoint handlers and error mapping
//   - middleware.go: Logging, recovery, rate limiting, security headers
//   - types.go:      Wire types
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/reply-gateway/external"
	"github.com/compresr/reply-gateway/internal/addetect"
	"github.com/compresr/reply-gateway/internal/compliance"
	"github.com/compresr/reply-gateway/internal/config"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/monitoring"
	"github.com/compresr/reply-gateway/internal/reply"
	"github.com/compresr/reply-gateway/internal/store"
	"github.com/compresr/reply-gateway/internal/strategy"
	"github.com/compresr/reply-gateway/internal/tokens"
)

// Gateway serves the reply API.
type Gateway struct {
	config        *config.Config
	orchestrator  *reply.Orchestrator
	detector      *addetect.Detector
	metrics       *monitoring.Metrics
	tracker       *monitoring.Tracker
	alerts        *monitoring.AlertManager
	requestLogger *monitoring.RequestLogger
	rateLimiter   *rateLimiter
	backend       store.Backend
	handler       http.Handler
	server        *http.Server
}

// New builds a gateway from configuration, creating the storage backend and
// the generation client.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	gen, err := external.NewGenerator(ctx, cfg.Generator)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	g, err := NewWithDependencies(cfg, backend, gen)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return g, nil
}

// NewWithDependencies builds a gateway around an existing backend and
// generator. The gateway takes ownership of backend.
func NewWithDependencies(cfg *config.Config, backend store.Backend, gen external.Generator) (*Gateway, error) {
	logger := monitoring.New(cfg.Monitoring.Logger())
	metrics := monitoring.NewMetrics()

	tracker, err := monitoring.NewTracker(cfg.Monitoring.Telemetry())
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry: %w", err)
	}

	if rs, ok := backend.(*store.RetryingStore); ok {
		rs.OnRetry(func(op string, _ error) { metrics.RecordStoreRetry(op) })
	}

	summarizer := history.NewSummarizer(gen, cfg.History.SummaryMaxChars)
	histories := history.NewStore(backend, summarizer, cfg.History, history.StoreOptions{
		TTL:                 cfg.Store.TTL,
		TolerateUnavailable: cfg.Store.TolerateUnavailable,
	})
	histories.OnSummarize(metrics.RecordSummarization)

	filter, err := compliance.NewFilter(cfg.Compliance)
	if err != nil {
		_ = tracker.Close()
		return nil, err
	}

	selector := strategy.NewSelector(cfg.Strategy, tokens.New(cfg.Strategy.Encoding), filter.MaxChars())

	g := &Gateway{
		config: cfg,
		orchestrator: reply.New(histories, selector, filter, gen, reply.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			Metrics:        metrics,
		}),
		detector:      addetect.New(cfg.AdDetect),
		metrics:       metrics,
		tracker:       tracker,
		alerts:        monitoring.NewAlertManager(logger, cfg.Monitoring.Alerts()),
		requestLogger: monitoring.NewRequestLogger(logger),
		rateLimiter:   newRateLimiter(cfg.Server.RateLimit),
		backend:       backend,
	}
	g.handler = g.buildRouter()
	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g, nil
}

// Handler returns the routed handler with middleware applied.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Start listens on the configured port and blocks until the server stops.
// A graceful Shutdown returns nil.
func (g *Gateway) Start() error {
	log.Info().
		Int("port", g.config.Server.Port).
		Str("store", g.config.Store.Type).
		Str("provider", g.config.Generator.Provider).
		Msg("reply gateway listening")

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	g.rateLimiter.close()
	if err := g.tracker.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := g.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
