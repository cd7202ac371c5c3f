// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_routing_decisions_total",
			Help: "Routing decisions by persona and path",
		},
		[]string{"persona", "path"},
	)

	RoutingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_routing_fallbacks_total",
			Help: "Decisions resolved to the default persona",
		},
		[]string{"reason"},
	)

	RoutingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netbot_routing_failures_total",
			Help: "Routing calls that returned an error",
		},
	)

	RoutingFallbackRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netbot_routing_fallback_ratio",
			Help: "Share of routed requests that fell back to the default persona since the last stats reset",
		},
	)

	CapabilityExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_capability_executions_total",
			Help: "Capability executions by outcome",
		},
		[]string{"persona", "function", "status"},
	)

	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netbot_capability_duration_seconds",
			Help:    "Capability execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"function"},
	)

	RetrievalDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_retrieval_degraded_total",
			Help: "Retrieval calls answered with an in-band failure",
		},
		[]string{"reason"},
	)

	IndexBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_index_builds_total",
			Help: "Dataset index builds",
		},
		[]string{"dataset"},
	)

	GenerationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netbot_generation_failures_total",
			Help: "Generations that ended with an in-band error notice",
		},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_llm_requests_total",
			Help: "Backend model requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "netbot_llm_latency_seconds",
			Help: "Backend model request latency in seconds",
		},
		[]string{"provider"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "netbot_turn_duration_seconds",
			Help: "Time from query to the end of the answer stream",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netbot_active_sessions",
			Help: "Number of sessions with a turn in progress",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)
