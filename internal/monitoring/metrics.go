// Package monitoring - metrics.go exports Prometheus metrics.
//
// DESIGN: One private registry per Metrics so tests and multiple gateways in
// one process never collide on the default registerer:
//   - reply_requests_total{outcome}:       Reply requests by outcome
//   - reply_generation_seconds:            Generator latency
//   - reply_summarizations_total{result}:  Summarization attempts
//   - reply_store_retries_total{op}:       Retried backend calls
//   - http_requests_total{method,status}:  HTTP responses
//
// All methods are safe on a nil *Metrics.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors.
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	generation     prometheus.Histogram
	summarizations *prometheus.CounterVec
	storeRetries   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reply_requests_total",
			Help: "Reply generation requests by outcome.",
		}, []string{"outcome"}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reply_generation_seconds",
			Help:    "Latency of generator calls for replies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		summarizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reply_summarizations_total",
			Help: "History summarization attempts by result.",
		}, []string{"result"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reply_store_retries_total",
			Help: "Storage backend calls retried after transient unavailability.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP responses by method and status.",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.generation,
		m.summarizations,
		m.storeRetries,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordReply counts a reply request.
func (m *Metrics) RecordReply(outcome Outcome) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(outcome)).Inc()
}

// ObserveGeneration records a generator call duration.
func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.generation.Observe(d.Seconds())
}

// RecordSummarization counts a summarization attempt.
func (m *Metrics) RecordSummarization(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.summarizations.WithLabelValues(result).Inc()
}

// RecordStoreRetry counts a retried backend call.
func (m *Metrics) RecordStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

// RecordHTTP counts an HTTP response.
func (m *Metrics) RecordHTTP(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Registry exposes the registry (tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
