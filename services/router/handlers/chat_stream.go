// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the router service.
//
// The streaming chat handler runs the full request pipeline:
//
//	validate → classify (or bypass) → routing event → optional retrieval →
//	memory_context event → turn list → fallback orchestrator → SSE transport
//
// All pipeline state is request-local; nothing is shared across requests
// except the injected collaborators, which are safe for concurrent use.
package handlers

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/classifier"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/middleware"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/mux"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("tidewater.router.handlers")

// heartbeatInterval is the interval for sending keepalive pings.
// 15 seconds is well below typical proxy timeouts (30-60s).
const heartbeatInterval = 15 * time.Second

// completionSystemPrompt frames the downstream model's role. Memory
// context, when present, is appended to this turn.
const completionSystemPrompt = "You are a helpful assistant. Answer the user directly and concisely."

// RouteClassifier decides how a message should be handled.
type RouteClassifier interface {
	Classify(ctx context.Context, message string, recentMessages []string) (*datatypes.RouteDecision, error)
}

// MemoryRetriever fetches relevant prior-conversation memories. Failures
// are absorbed inside the implementation; the slice is simply empty.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID, query string, limit int) []datatypes.MemoryRecord
}

// CompletionRunner streams a completion with fallback. The fallback
// orchestrator satisfies this.
type CompletionRunner interface {
	Run(ctx context.Context, messages []llm.Message, primary string, opts mux.StreamOptions) iter.Seq[datatypes.ChunkEvent]
}

// ChatStreamHandler serves POST /v1/chat/stream.
type ChatStreamHandler struct {
	classifier RouteClassifier
	retriever  MemoryRetriever
	runner     CompletionRunner
	finalizer  *Finalizer
}

// NewChatStreamHandler creates the streaming chat handler. The classifier
// and runner are required; retriever and finalizer may be nil, which
// disables retrieval and post-stream persistence respectively.
func NewChatStreamHandler(routeClassifier RouteClassifier, retriever MemoryRetriever, runner CompletionRunner, finalizer *Finalizer) *ChatStreamHandler {
	if routeClassifier == nil {
		panic("handlers: nil classifier")
	}
	if runner == nil {
		panic("handlers: nil completion runner")
	}
	return &ChatStreamHandler{
		classifier: routeClassifier,
		retriever:  retriever,
		runner:     runner,
		finalizer:  finalizer,
	}
}

// HandleChatStream runs the streaming chat pipeline.
//
// # Description
//
// Validates the request, obtains a routing decision (from the classifier,
// or synthesized when skip_router is set), then streams the completion as
// SSE chunk events ending with the [DONE] sentinel. Classification
// failures abort before any stream bytes are written, so the client gets
// a plain 502 JSON error. Retrieval failures never abort; the stream
// simply carries no memories.
func (h *ChatStreamHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream
	m := observability.DefaultMetrics

	ctx, span := tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	success := false
	defer func() {
		m.RecordRequest(endpoint, success)
		m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
	}()

	// Auth middleware has already validated the token and stored AuthInfo.
	userID := "anonymous"
	if authInfo := middleware.GetAuthInfo(c); authInfo != nil {
		userID = authInfo.UserID
	}
	span.SetAttributes(attribute.String("user.id", userID))

	// Step 1: Parse and validate the request body.
	var req datatypes.StreamChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		m.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Warn("Stream request validation failed", "error", err, "requestId", req.RequestID)
		m.RecordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req.EnsureDefaults()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("chat.id", req.ChatID),
		attribute.Bool("request.skip_router", req.SkipRouter),
	)

	// Step 2: Obtain the routing decision. The whole decision is made
	// before any stream byte is written, so failures surface as a plain
	// HTTP error, never as a broken stream.
	var decision *datatypes.RouteDecision
	origin := "classifier"
	if req.SkipRouter {
		decision = classifier.SyntheticDecision(req.Model)
		origin = "bypass"
	} else {
		var err error
		decision, err = h.classifier.Classify(ctx, req.Message, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "classification failed")
			slog.Error("Routing classification failed", "error", err, "requestId", req.RequestID)
			m.RecordError(endpoint, observability.ErrorCodeClassification)
			c.JSON(http.StatusBadGateway, gin.H{"error": "routing decision failed"})
			return
		}
		if req.Model != "" {
			// Explicit model in the request overrides the classifier's pick.
			decision.Model = req.Model
		}
	}
	m.RecordDecision(string(decision.Type), origin)
	span.SetAttributes(
		attribute.String("decision.type", string(decision.Type)),
		attribute.String("decision.model", decision.Model),
	)

	// Step 3: Switch to SSE. From here on errors travel in-stream.
	SetSSEHeaders(c.Writer)
	writer, err := NewStreamWriter(c.Writer, req.ChatID)
	if err != nil {
		span.RecordError(err)
		m.RecordError(endpoint, observability.ErrorCodeStreamSetup)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	m.StreamStarted(endpoint)
	defer m.StreamEnded(endpoint)

	heartbeatDone := make(chan struct{})
	go runHeartbeat(ctx, writer, heartbeatDone)
	defer close(heartbeatDone)

	if err := writer.WriteChunk(datatypes.RoutingChunk(decision)); err != nil {
		return
	}

	// Step 4: Optional retrieval. Only rag_search decisions consult
	// memory; the memory_context event reports what was found, including
	// an empty result.
	var records []datatypes.MemoryRecord
	if decision.NeedsRetrieval() && h.retriever != nil {
		records = h.retriever.Retrieve(ctx, userID, decision.Query, datatypes.DefaultMemoryLimit)
		if err := writer.WriteChunk(datatypes.MemoryContextChunk(records)); err != nil {
			return
		}
	}

	// Step 5: Decisions whose execution lives outside this service emit a
	// descriptive placeholder and finish normally.
	switch decision.Type {
	case datatypes.DecisionToolCall:
		h.finishPlaceholder(writer, fmt.Sprintf(
			"The request was routed to tool %q, which is handled by an external executor not attached to this deployment.",
			decision.Tool))
		success = true
		return
	case datatypes.DecisionProactiveSchedule:
		action, when := "", ""
		if decision.Schedule != nil {
			action, when = decision.Schedule.Action, decision.Schedule.Time
		}
		h.finishPlaceholder(writer, fmt.Sprintf(
			"A reminder (%s at %s) was requested; scheduling is handled by an external service not attached to this deployment.",
			action, when))
		success = true
		return
	}

	// Step 6: Stream the completion through the fallback orchestrator.
	messages := buildTurnMessages(req.Message, records)
	opts := mux.StreamOptions{Temperature: req.Temperature, MaxTokens: req.MaxTokens}

	var answer strings.Builder
	tokenCount := 0
	firstTokenAt := time.Time{}
	fallbackUsed := false
	finalModel := decision.Model
	sawError := false
	sawDone := false
	clientGone := false

	for chunk := range h.runner.Run(ctx, messages, decision.Model, opts) {
		switch chunk.Type {
		case datatypes.ChunkText:
			if firstTokenAt.IsZero() {
				firstTokenAt = time.Now()
				m.RecordTimeToFirstToken(endpoint, firstTokenAt.Sub(startTime).Seconds())
			}
			tokenCount++
			answer.WriteString(chunk.Content)
		case datatypes.ChunkFallback:
			fallbackUsed = true
			if newModel, ok := chunk.Metadata["new_model"].(string); ok {
				finalModel = newModel
			}
		case datatypes.ChunkError:
			sawError = true
			m.RecordError(endpoint, observability.ErrorCodeExhausted)
		case datatypes.ChunkDone:
			sawDone = true
		}

		if err := writer.WriteChunk(chunk); err != nil {
			// The client went away; stop pulling so the orchestrator can
			// abort the provider call.
			clientGone = true
			m.RecordClientDisconnect(endpoint)
			slog.Info("Client disconnected mid-stream", "requestId", req.RequestID)
			break
		}
	}

	m.RecordTokens(tokenCount, finalModel)
	span.SetAttributes(
		attribute.Int("stream.token_count", tokenCount),
		attribute.Bool("stream.fallback_used", fallbackUsed),
	)

	if clientGone {
		return
	}
	if err := writer.WriteSentinel(); err != nil {
		return
	}

	// Step 7: Fire-and-forget persistence, only for streams that finished
	// cleanly. Exhausted or aborted streams leave no stored turn.
	if sawDone && !sawError {
		success = true
		if h.finalizer != nil {
			go h.finalizer.FinalizeTurn(FinishedTurn{
				UserID:       userID,
				ChatID:       req.ChatID,
				Question:     req.Message,
				Answer:       answer.String(),
				Model:        finalModel,
				FallbackUsed: fallbackUsed,
				Tokens:       tokenCount,
			})
		}
	}
}

// finishPlaceholder ends a stream whose work is delegated elsewhere.
func (h *ChatStreamHandler) finishPlaceholder(writer StreamWriter, text string) {
	if err := writer.WriteChunk(datatypes.TextChunk(text)); err != nil {
		return
	}
	if err := writer.WriteChunk(datatypes.DoneChunk()); err != nil {
		return
	}
	_ = writer.WriteSentinel()
}

// buildTurnMessages assembles the provider turn list: the system prompt,
// enriched with retrieved memories when present, then the user message.
func buildTurnMessages(message string, records []datatypes.MemoryRecord) []llm.Message {
	system := completionSystemPrompt
	if len(records) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nRelevant context from previous conversations:\n")
		for _, record := range records {
			b.WriteString("- ")
			b.WriteString(record.Content)
			b.WriteString("\n")
		}
		system = b.String()
	}
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: message},
	}
}

// runHeartbeat sends keepalive pings until the stream ends.
//
// Runs in a separate goroutine, sending SSE comments every
// heartbeatInterval. Errors writing keepalives are logged but do not stop
// the heartbeat; the stream itself will notice the dead connection.
func runHeartbeat(ctx context.Context, writer StreamWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
			}
		}
	}
}
