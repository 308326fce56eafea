// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMDuration tracks text generation and classification latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// MessagesDispatched tracks outbound messages by terminal dispatch result.
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_messages_dispatched_total",
			Help: "Outbound messages by channel and dispatch result",
		},
		[]string{"channel", "status"},
	)

	// DeliveryRetries tracks transport retries.
	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_delivery_retries_total",
			Help: "Transport send retries",
		},
		[]string{"channel"},
	)

	// InboundProcessed tracks analyzed inbound replies.
	InboundProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_inbound_processed_total",
			Help: "Inbound replies processed by channel and response type",
		},
		[]string{"channel", "response_type"},
	)

	// StageTransitions tracks conversation stage changes.
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_stage_transitions_total",
			Help: "Conversation stage transitions",
		},
		[]string{"from", "to"},
	)

	// LeadScores tracks the distribution of computed lead scores.
	LeadScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outreach_lead_score",
			Help:    "Computed lead scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// GenerationFallbacks tracks replies produced without the generator.
	GenerationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_generation_fallbacks_total",
			Help: "Replies that fell back to a rule or static template",
		},
		[]string{"source"},
	)

	// AnalyticsCache tracks analytics cache lookups.
	AnalyticsCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_analytics_cache_total",
			Help: "Analytics cache lookups",
		},
		[]string{"result"},
	)

	// NATSPublished tracks events published to JetStream.
	NATSPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_published_total",
			Help: "Events published to JetStream",
		},
		[]string{"kind", "status"},
	)

	// WebhooksReceived tracks inbound webhook calls.
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_webhooks_received_total",
			Help: "Webhook deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for a completed LLM request.
func RecordLLM(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(provider, model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordDispatch records the outcome of one dispatch attempt chain.
func RecordDispatch(channel, status string) {
	MessagesDispatched.WithLabelValues(channel, status).Inc()
}

// RecordStageTransition records a stage change.
func RecordStageTransition(from, to string) {
	if from == to {
		return
	}
	StageTransitions.WithLabelValues(from, to).Inc()
}
