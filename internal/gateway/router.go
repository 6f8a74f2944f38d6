package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired. Middleware runs
// outermost first: logging, recovery, rate limiting, security headers.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.loggingMiddleware, g.panicRecovery, g.rateLimit, g.security)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		g.writeError(w, http.StatusNotFound, CodeInvalidRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		g.writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
	})

	// Operations.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/replies", g.handleGenerateReply())
		r.Get("/history/{user_id}/{post_id}", g.handleGetHistory())
		r.Delete("/history/{user_id}/{post_id}", g.handleDeleteHistory())
		r.Post("/ad-detection", g.handleDetectAd())
	})

	return r
}
