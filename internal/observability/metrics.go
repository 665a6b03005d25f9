// Package observability holds the Prometheus metrics exposed on /metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	MatchOutcomes  *prometheus.CounterVec
	MatchFallbacks prometheus.Counter

	EmbeddingCalls    *prometheus.CounterVec
	EmbeddingDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		MatchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "match_outcomes_total",
				Help:      "Matching results by search path and outcome",
			},
			[]string{"path", "outcome"},
		),
		MatchFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "match_fallbacks_total",
				Help:      "Times the title fallback replaced the vector search",
			},
		),
		EmbeddingCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Embedding provider calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		EmbeddingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_request_duration_seconds",
				Help:      "Embedding provider latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.MatchOutcomes,
		c.MatchFallbacks,
		c.EmbeddingCalls,
		c.EmbeddingDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request
func (c *Collector) ObserveHTTP(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveMatch records a matching outcome
func (c *Collector) ObserveMatch(path, outcome string) {
	if c == nil {
		return
	}
	c.MatchOutcomes.WithLabelValues(path, outcome).Inc()
}

// IncFallback records a switch to the title fallback
func (c *Collector) IncFallback() {
	if c == nil {
		return
	}
	c.MatchFallbacks.Inc()
}

// ObserveEmbedding records one embedding provider call
func (c *Collector) ObserveEmbedding(provider string, err error, d time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.EmbeddingCalls.WithLabelValues(provider, status).Inc()
	c.EmbeddingDuration.WithLabelValues(provider).Observe(d.Seconds())
}
