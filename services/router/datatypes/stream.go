// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// ChunkType classifies one streamed event.
type ChunkType string

const (
	ChunkText          ChunkType = "text"
	ChunkMemoryContext ChunkType = "memory_context"
	ChunkRouting       ChunkType = "routing"
	ChunkFallback      ChunkType = "fallback"
	ChunkError         ChunkType = "error"
	ChunkDone          ChunkType = "done"
)

// ChunkEvent is the unit of streamed output for one request.
//
// # Description
//
// Chunks are append-only: once emitted, a chunk is never retracted or
// reordered. A request's sequence always ends with exactly one terminal
// signal, either a done chunk or stream closure after an error chunk.
//
// Id, CreatedAt, Hash and PrevHash are populated by the stream writer at
// emission time; producers fill only Type, Content and Metadata. The hash
// chain lets a client verify that no event was dropped or injected by an
// intermediary.
//
// # Fields
//
//   - Type: Event discriminator; see the ChunkType constants.
//   - Content: Human-readable payload. Token text for text chunks, a short
//     notice for routing/fallback/memory_context, the sanitized message for
//     error chunks.
//   - Metadata: Structured extras per type. fallback carries previous_model
//     and new_model; memory_context carries count and scores; routing
//     carries decision_type and model.
//   - SessionId: The chat session this event belongs to.
//   - CreatedAt: Unix milliseconds at emission.
//   - Hash/PrevHash: SHA-256 chain over the identity and content fields,
//     including serialized metadata.
type ChunkEvent struct {
	Id        string         `json:"id,omitempty"`
	Type      ChunkType      `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SessionId string         `json:"session_id,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
	Hash      string         `json:"hash,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}

// TextChunk builds a text event.
func TextChunk(content string) ChunkEvent {
	return ChunkEvent{Type: ChunkText, Content: content}
}

// DoneChunk builds the terminal done event.
func DoneChunk() ChunkEvent {
	return ChunkEvent{Type: ChunkDone, Content: "stream complete"}
}

// ErrorChunk builds an in-band error event. The content must already be
// sanitized for the client; raw provider errors stay in the logs.
func ErrorChunk(content string) ChunkEvent {
	return ChunkEvent{Type: ChunkError, Content: content}
}

// FallbackChunk builds the event announcing a mid-stream model substitution.
func FallbackChunk(previousModel, newModel string) ChunkEvent {
	return ChunkEvent{
		Type:    ChunkFallback,
		Content: "switching model",
		Metadata: map[string]any{
			"previous_model": previousModel,
			"new_model":      newModel,
		},
	}
}

// RoutingChunk builds the event describing the routing decision taken.
func RoutingChunk(decision *RouteDecision) ChunkEvent {
	return ChunkEvent{
		Type:    ChunkRouting,
		Content: string(decision.Type),
		Metadata: map[string]any{
			"decision_type": string(decision.Type),
			"model":         decision.Model,
		},
	}
}

// MemoryContextChunk builds the event summarizing retrieved memories.
func MemoryContextChunk(records []MemoryRecord) ChunkEvent {
	scores := make([]float64, 0, len(records))
	for _, rec := range records {
		scores = append(scores, rec.Score)
	}
	return ChunkEvent{
		Type:    ChunkMemoryContext,
		Content: "memory context attached",
		Metadata: map[string]any{
			"count":  len(records),
			"scores": scores,
		},
	}
}
