// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrSkipRouterWithoutModel is returned when a request bypasses the
	// classifier but names no model to answer with.
	ErrSkipRouterWithoutModel = errors.New("skip_router requires a model")
)

// =============================================================================
// Route Decision
// =============================================================================

// DecisionType discriminates the RouteDecision union.
type DecisionType string

const (
	DecisionDirectReply       DecisionType = "direct_reply"
	DecisionRAGSearch         DecisionType = "rag_search"
	DecisionToolCall          DecisionType = "tool_call"
	DecisionProactiveSchedule DecisionType = "proactive_schedule"
)

// SchedulePayload is the proactive_schedule variant payload, handed off to
// the external reminder scheduler.
type SchedulePayload struct {
	Time   string `json:"time"`
	Action string `json:"action"`
}

// RouteDecision is the tagged union produced exactly once per request by the
// decision classifier (or synthesized in bypass mode).
//
// # Description
//
// Type selects the active variant; only that variant's payload fields are
// meaningful:
//
//   - direct_reply: Model, Reason
//   - rag_search: Query, Model, Reason
//   - tool_call: Tool, Params, Reason
//   - proactive_schedule: Schedule, Reason
//
// Decisions are immutable once produced. The orchestrator never
// re-classifies mid-stream; everything downstream reads the same value.
//
// # Examples
//
//	decision := &RouteDecision{
//	    Type:   DecisionRAGSearch,
//	    Query:  "travel plans",
//	    Model:  "gpt-4o-mini",
//	    Reason: "user references earlier trip discussion",
//	}
type RouteDecision struct {
	Type     DecisionType     `json:"type"`
	Model    string           `json:"model,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Query    string           `json:"query,omitempty"`
	Tool     string           `json:"tool,omitempty"`
	Params   map[string]any   `json:"params,omitempty"`
	Schedule *SchedulePayload `json:"schedule,omitempty"`
}

// Validate checks that the active variant carries its required payload.
// The switch is exhaustive over DecisionType; an unknown discriminant is an
// error, never a silent default.
func (d *RouteDecision) Validate() error {
	switch d.Type {
	case DecisionDirectReply:
		if d.Model == "" {
			return fmt.Errorf("direct_reply decision missing model")
		}
	case DecisionRAGSearch:
		if d.Model == "" {
			return fmt.Errorf("rag_search decision missing model")
		}
		if d.Query == "" {
			return fmt.Errorf("rag_search decision missing query")
		}
	case DecisionToolCall:
		if d.Tool == "" {
			return fmt.Errorf("tool_call decision missing tool")
		}
	case DecisionProactiveSchedule:
		if d.Schedule == nil || d.Schedule.Time == "" || d.Schedule.Action == "" {
			return fmt.Errorf("proactive_schedule decision missing schedule")
		}
	default:
		return fmt.Errorf("unknown decision type %q", d.Type)
	}
	return nil
}

// NeedsRetrieval reports whether this decision requires a memory lookup
// before the completion opens.
func (d *RouteDecision) NeedsRetrieval() bool {
	return d.Type == DecisionRAGSearch
}

// =============================================================================
// Memory Records
// =============================================================================

// MemoryRecord is one ranked snippet returned by the memory retriever.
// Score is similarity in [0,1], records are ordered descending. Owned by
// the vector store; never mutated here.
type MemoryRecord struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
