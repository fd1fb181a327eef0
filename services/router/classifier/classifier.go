// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classifier produces the routing decision for one chat message.
//
// The classifier issues a single low-latency JSON-mode inference call and
// parses the result into the RouteDecision tagged union. It runs before
// anything else in the pipeline because model selection and memory
// necessity both depend on its output. A classification failure is fatal
// for the request; the caller surfaces it pre-stream.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("tidewater.router.classifier")

// DefaultTimeout bounds the classification call. The classifier model is
// expected to answer in well under a second; anything slower than this is
// treated as a failure.
const DefaultTimeout = 10 * time.Second

const classifyPromptTemplate = `You are a routing classifier for a chat assistant.
Decide how the user's message must be handled and answer with a single JSON
object, no prose, no code fences.

The JSON object has a "type" field with exactly one of these values:
  "direct_reply"       - answer immediately, no memory lookup needed
  "rag_search"         - the answer needs the user's stored memories
  "tool_call"          - the message asks for an external tool
  "proactive_schedule" - the message asks to be reminded later

Additional fields per type:
  direct_reply:       {"type":"direct_reply","model":"%[1]s","reason":"..."}
  rag_search:         {"type":"rag_search","model":"%[1]s","query":"<search query>","reason":"..."}
  tool_call:          {"type":"tool_call","tool":"<tool name>","params":{},"reason":"..."}
  proactive_schedule: {"type":"proactive_schedule","schedule":{"time":"<ISO 8601>","action":"..."},"reason":"..."}

Recent conversation:
%[2]s

User message:
%[3]s`

// Classifier decides how one message is routed.
type Classifier interface {
	Classify(ctx context.Context, message string, recentMessages []string) (*datatypes.RouteDecision, error)
}

// LLMClassifier implements Classifier with one Generate call against a fast
// model.
type LLMClassifier struct {
	client       llm.LLMClient
	defaultModel string
	timeout      time.Duration
}

// Compile-time interface check.
var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier creates a classifier backed by the given client.
// defaultModel is the completion model a decision names when the classifier
// has no reason to pick another. Panics on nil client, matching the
// constructor convention used across the services.
func NewLLMClassifier(client llm.LLMClient, defaultModel string) *LLMClassifier {
	if client == nil {
		panic("classifier: nil LLM client")
	}
	if defaultModel == "" {
		panic("classifier: empty default model")
	}
	return &LLMClassifier{
		client:       client,
		defaultModel: defaultModel,
		timeout:      DefaultTimeout,
	}
}

// Classify issues the classification call and parses its JSON output.
//
// # Description
//
// One inference call, one decision. The call carries its own bounded
// timeout on top of the request context. Malformed output is an error, not
// a silent default: a classifier that cannot be trusted to produce JSON
// cannot be trusted to have routed correctly either.
//
// # Outputs
//
//   - *datatypes.RouteDecision: The validated decision.
//   - error: Non-nil if the call failed, timed out, or returned a payload
//     that does not parse into a valid decision.
func (c *LLMClassifier) Classify(ctx context.Context, message string, recentMessages []string) (*datatypes.RouteDecision, error) {
	ctx, span := tracer.Start(ctx, "LLMClassifier.Classify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contextBlock := "(none)"
	if len(recentMessages) > 0 {
		contextBlock = strings.Join(recentMessages, "\n")
	}
	prompt := fmt.Sprintf(classifyPromptTemplate, c.defaultModel, contextBlock, message)

	temp := float32(0.0)
	maxTokens := 512
	raw, err := c.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Classifier returned unusable output", "error", err, "raw_snippet", snippet(raw))
		return nil, err
	}

	// A decision that names no model still needs one for the completion.
	if decision.Model == "" && (decision.Type == datatypes.DecisionDirectReply || decision.Type == datatypes.DecisionRAGSearch) {
		decision.Model = c.defaultModel
	}

	if err := decision.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("classifier produced invalid decision: %w", err)
	}

	span.SetAttributes(
		attribute.String("router.decision_type", string(decision.Type)),
		attribute.String("router.model", decision.Model),
	)
	slog.Debug("Classified message", "decision_type", decision.Type, "model", decision.Model)
	return decision, nil
}

// SyntheticDecision builds the bypass-mode decision deterministically, with
// no inference call. It flows through the identical RouteDecision type and
// is indistinguishable downstream from a classifier-produced one.
func SyntheticDecision(model string) *datatypes.RouteDecision {
	return &datatypes.RouteDecision{
		Type:   datatypes.DecisionDirectReply,
		Model:  model,
		Reason: "router bypassed by caller",
	}
}

// parseDecision extracts the decision JSON from raw model output. Models
// occasionally wrap JSON in code fences or surround it with prose despite
// instructions, so the parser locates the outermost object first.
func parseDecision(raw string) (*datatypes.RouteDecision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier output")
	}

	var decision datatypes.RouteDecision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decision); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}
	return &decision, nil
}

func snippet(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
