// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamWriter_FrameFormat(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewStreamWriter(recorder, "session-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteChunk(datatypes.TextChunk("hello")))

	body := recorder.Body.String()
	require.True(t, strings.HasPrefix(body, "event: text\ndata: "))
	require.True(t, strings.HasSuffix(body, "\n\n"))

	payload := strings.TrimSuffix(strings.TrimPrefix(body, "event: text\ndata: "), "\n\n")
	var chunk datatypes.ChunkEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
	assert.Equal(t, datatypes.ChunkText, chunk.Type)
	assert.Equal(t, "hello", chunk.Content)
	assert.Equal(t, "session-1", chunk.SessionId)
	assert.NotEmpty(t, chunk.Id)
	assert.NotZero(t, chunk.CreatedAt)
	assert.NotEmpty(t, chunk.Hash)
	assert.Empty(t, chunk.PrevHash)
}

func TestStreamWriter_HashChainContinuity(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewStreamWriter(recorder, "session-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteChunk(datatypes.TextChunk("one")))
	require.NoError(t, writer.WriteChunk(datatypes.TextChunk("two")))
	require.NoError(t, writer.WriteChunk(datatypes.DoneChunk()))

	chunks := decodeFrames(t, recorder.Body.String())
	require.Len(t, chunks, 3)

	assert.Empty(t, chunks[0].PrevHash)
	assert.Equal(t, chunks[0].Hash, chunks[1].PrevHash)
	assert.Equal(t, chunks[1].Hash, chunks[2].PrevHash)

	// Each hash is recomputable from the chunk's own fields.
	for _, chunk := range chunks {
		expected := chunk.Hash
		chunk.Hash = ""
		assert.Equal(t, expected, computeChunkHash(chunk))
	}
}

func TestStreamWriter_SentinelIsNotAChunk(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewStreamWriter(recorder, "session-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteChunk(datatypes.DoneChunk()))
	require.NoError(t, writer.WriteSentinel())

	body := recorder.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	// The sentinel carries no event line and is not valid chunk JSON.
	sentinel := body[strings.LastIndex(body, "data: "):]
	assert.False(t, strings.Contains(sentinel, "event:"))
	var chunk datatypes.ChunkEvent
	assert.Error(t, json.Unmarshal([]byte("[DONE]"), &chunk))
}

func TestStreamWriter_KeepAliveIsComment(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewStreamWriter(recorder, "session-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteChunk(datatypes.TextChunk("after ping")))

	body := recorder.Body.String()
	assert.True(t, strings.HasPrefix(body, ": ping\n\n"))

	// Keep-alives do not participate in the hash chain.
	chunks := decodeFrames(t, body)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].PrevHash)
}

func TestSetSSEHeaders(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	SetSSEHeaders(recorder)

	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", recorder.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", recorder.Header().Get("Connection"))
	assert.Equal(t, "no", recorder.Header().Get("X-Accel-Buffering"))
}

// decodeFrames parses every "event:/data:" frame in an SSE body, skipping
// comments and the terminal sentinel.
func decodeFrames(t *testing.T, body string) []datatypes.ChunkEvent {
	t.Helper()

	var chunks []datatypes.ChunkEvent
	for _, frame := range strings.Split(body, "\n\n") {
		idx := strings.Index(frame, "data: ")
		if idx < 0 {
			continue
		}
		payload := frame[idx+len("data: "):]
		if payload == terminalSentinel {
			continue
		}
		var chunk datatypes.ChunkEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		chunks = append(chunks, chunk)
	}
	return chunks
}
