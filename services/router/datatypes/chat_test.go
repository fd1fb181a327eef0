// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamChatRequest_Validate_RequiresMessage(t *testing.T) {
	t.Parallel()

	req := &StreamChatRequest{}
	err := req.Validate()
	require.Error(t, err)

	req.Message = "hello"
	assert.NoError(t, req.Validate())
}

func TestStreamChatRequest_Validate_MessageSizeLimit(t *testing.T) {
	t.Parallel()

	req := &StreamChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes)}
	assert.NoError(t, req.Validate())

	req.Message += "a"
	assert.Error(t, req.Validate())
}

func TestStreamChatRequest_Validate_TemperatureRange(t *testing.T) {
	t.Parallel()

	temp := float32(0.7)
	req := &StreamChatRequest{Message: "hi", Temperature: &temp}
	assert.NoError(t, req.Validate())

	bad := float32(2.5)
	req.Temperature = &bad
	assert.Error(t, req.Validate())
}

func TestStreamChatRequest_Validate_SkipRouterNeedsModel(t *testing.T) {
	t.Parallel()

	req := &StreamChatRequest{Message: "hi", SkipRouter: true}
	err := req.Validate()
	require.ErrorIs(t, err, ErrSkipRouterWithoutModel)

	req.Model = "gpt-4o-mini"
	assert.NoError(t, req.Validate())
}

func TestStreamChatRequest_EnsureDefaults(t *testing.T) {
	t.Parallel()

	req := &StreamChatRequest{Message: "hi"}
	req.EnsureDefaults()

	assert.NotEmpty(t, req.RequestID)
	assert.NotEmpty(t, req.ChatID)
	assert.Greater(t, req.Timestamp, int64(0))

	// Client-supplied values survive.
	req2 := &StreamChatRequest{Message: "hi", RequestID: "keep", ChatID: "keep", Timestamp: 42}
	req2.EnsureDefaults()
	assert.Equal(t, "keep", req2.RequestID)
	assert.Equal(t, "keep", req2.ChatID)
	assert.Equal(t, int64(42), req2.Timestamp)
}

func TestRouteDecision_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		decision RouteDecision
		wantErr  bool
	}{
		{"direct_reply ok", RouteDecision{Type: DecisionDirectReply, Model: "m"}, false},
		{"direct_reply missing model", RouteDecision{Type: DecisionDirectReply}, true},
		{"rag_search ok", RouteDecision{Type: DecisionRAGSearch, Model: "m", Query: "q"}, false},
		{"rag_search missing query", RouteDecision{Type: DecisionRAGSearch, Model: "m"}, true},
		{"tool_call ok", RouteDecision{Type: DecisionToolCall, Tool: "calendar"}, false},
		{"tool_call missing tool", RouteDecision{Type: DecisionToolCall}, true},
		{"schedule ok", RouteDecision{Type: DecisionProactiveSchedule, Schedule: &SchedulePayload{Time: "2026-01-01T09:00:00Z", Action: "remind"}}, false},
		{"schedule missing payload", RouteDecision{Type: DecisionProactiveSchedule}, true},
		{"unknown type", RouteDecision{Type: "mystery"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.decision.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRouteDecision_NeedsRetrieval(t *testing.T) {
	t.Parallel()

	rag := RouteDecision{Type: DecisionRAGSearch, Model: "m", Query: "q"}
	assert.True(t, rag.NeedsRetrieval())

	for _, dt := range []DecisionType{DecisionDirectReply, DecisionToolCall, DecisionProactiveSchedule} {
		d := RouteDecision{Type: dt}
		assert.False(t, d.NeedsRetrieval(), string(dt))
	}
}

func TestMemoryContextChunk_Metadata(t *testing.T) {
	t.Parallel()

	records := []MemoryRecord{
		{Content: "likes trains", Score: 0.91},
		{Content: "visited Osaka", Score: 0.84},
	}
	chunk := MemoryContextChunk(records)

	assert.Equal(t, ChunkMemoryContext, chunk.Type)
	assert.Equal(t, 2, chunk.Metadata["count"])
	assert.Equal(t, []float64{0.91, 0.84}, chunk.Metadata["scores"])
}

func TestFallbackChunk_Metadata(t *testing.T) {
	t.Parallel()

	chunk := FallbackChunk("model-a", "model-b")
	assert.Equal(t, ChunkFallback, chunk.Type)
	assert.Equal(t, "model-a", chunk.Metadata["previous_model"])
	assert.Equal(t, "model-b", chunk.Metadata["new_model"])
}
