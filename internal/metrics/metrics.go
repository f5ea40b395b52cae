// Package metrics holds the Prometheus collectors for the AI strategy layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atlas_ai"

// Metrics groups all collectors registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	llmRequests    *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	unknownCites   prometheus.Counter
	droppedContext prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by outcome.",
		}, []string{"outcome"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM backend requests by provider and status.",
		}, []string{"provider", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by LLM backends.",
		}, []string{"provider"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		unknownCites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grounding_unknown_citations_total",
			Help:      "Citations of evidence IDs that were never supplied.",
		}),
		droppedContext: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_evidence_dropped_total",
			Help:      "Evidence entries omitted to respect the prompt token ceiling.",
		}),
	}

	m.registry.MustRegister(
		m.events,
		m.llmRequests,
		m.llmTokens,
		m.llmLatency,
		m.cacheLookups,
		m.unknownCites,
		m.droppedContext,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Event counts an inbound event outcome: processed, failed or dead_lettered.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

// LLMRequest records one backend call.
func (m *Metrics) LLMRequest(provider string, err error, tokens int, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmRequests.WithLabelValues(provider, status).Inc()
	m.llmLatency.WithLabelValues(provider).Observe(took.Seconds())
	if tokens > 0 {
		m.llmTokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// CacheLookup counts a cache hit, miss or error.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// UnknownCitations counts citations that referenced unsupplied evidence.
func (m *Metrics) UnknownCitations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unknownCites.Add(float64(n))
}

// DroppedEvidence counts evidence omitted by the prompt budget.
func (m *Metrics) DroppedEvidence(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedContext.Add(float64(n))
}
