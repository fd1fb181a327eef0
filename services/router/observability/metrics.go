// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the router service.
//
// Metrics cover the streaming pipeline end to end:
//
//   - Request counters (by endpoint, status, error type)
//   - Stream duration and time-to-first-token histograms
//   - Active stream gauge
//   - Fallback, chain-exhaustion and retrieval-failure counters
//
// All metrics are registered via promauto against the default registry and
// exposed on /metrics by the routes package.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tidewater"

const routerSubsystem = "router"

// RouterMetrics holds all metric vectors for the streaming pipeline.
type RouterMetrics struct {
	// RequestsTotal counts requests by endpoint and success status.
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts streamed output tokens by model.
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first text chunk.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures full stream duration.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks concurrently open streams.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	ErrorsTotal *prometheus.CounterVec

	// DecisionsTotal counts routing decisions by type.
	DecisionsTotal *prometheus.CounterVec

	// FallbacksTotal counts mid-stream model substitutions by model pair.
	FallbacksTotal *prometheus.CounterVec

	// ChainExhaustedTotal counts requests where every candidate failed.
	ChainExhaustedTotal *prometheus.CounterVec

	// RetrievalFailuresTotal counts non-fatal memory retrieval failures
	// by stage (embed, search).
	RetrievalFailuresTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts streams ended by the client.
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the shared metrics instance, initialized at package
// load so library code can record without wiring.
var DefaultMetrics = InitMetrics()

// InitMetrics registers and returns the router metric set.
func InitMetrics() *RouterMetrics {
	return &RouterMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "tokens_total",
				Help:      "Total streamed output tokens by model",
			},
			[]string{"model"},
		),
		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Latency from request to first text chunk",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration by endpoint and status",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "active_streams",
				Help:      "Currently open response streams",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by type and endpoint",
			},
			[]string{"endpoint", "code"},
		),
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "decisions_total",
				Help:      "Routing decisions by type and origin (classifier or bypass)",
			},
			[]string{"decision_type", "origin"},
		),
		FallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "fallbacks_total",
				Help:      "Mid-stream model substitutions by model pair",
			},
			[]string{"previous_model", "new_model"},
		),
		ChainExhaustedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "chain_exhausted_total",
				Help:      "Requests where every fallback candidate failed",
			},
			[]string{"primary_model"},
		),
		RetrievalFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "retrieval_failures_total",
				Help:      "Non-fatal memory retrieval failures by stage",
			},
			[]string{"stage"},
		),
		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Streams ended early by the client",
			},
			[]string{"endpoint"},
		),
	}
}

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation     ErrorCode = "validation"
	ErrorCodeClassification ErrorCode = "classification"
	ErrorCodeExhausted      ErrorCode = "chain_exhausted"
	ErrorCodeStreamSetup    ErrorCode = "stream_setup"
	ErrorCodeInternal       ErrorCode = "internal"
)

// Endpoint identifies a metrics-labeled route.
type Endpoint string

const (
	EndpointChatStream Endpoint = "chat_stream"
)

func (m *RouterMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

func (m *RouterMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

func (m *RouterMetrics) RecordTokens(count int, model string) {
	if count > 0 {
		m.TokensTotal.WithLabelValues(model).Add(float64(count))
	}
}

func (m *RouterMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *RouterMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *RouterMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

func (m *RouterMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

func (m *RouterMetrics) RecordDecision(decisionType, origin string) {
	m.DecisionsTotal.WithLabelValues(decisionType, origin).Inc()
}

func (m *RouterMetrics) RecordFallback(previousModel, newModel string) {
	m.FallbacksTotal.WithLabelValues(previousModel, newModel).Inc()
}

func (m *RouterMetrics) RecordChainExhausted(primaryModel string) {
	m.ChainExhaustedTotal.WithLabelValues(primaryModel).Inc()
}

func (m *RouterMetrics) RecordRetrievalFailure(stage string) {
	m.RetrievalFailuresTotal.WithLabelValues(stage).Inc()
}

func (m *RouterMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
