// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mux

import (
	"context"
	"errors"
	"testing"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient pushes a fixed event script through the callback, then
// returns finalErr (nil means the script ended with its own done event).
type scriptedClient struct {
	script    []llm.StreamEvent
	finalErr  error
	callCount int
	cbErr     error
	lastModel string
}

func (s *scriptedClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return "", errors.New("not implemented")
}

func (s *scriptedClient) ChatStream(ctx context.Context, messages []llm.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	s.callCount++
	s.lastModel = params.ModelOverride
	for _, event := range s.script {
		if err := callback(event); err != nil {
			s.cbErr = err
			return err
		}
	}
	return s.finalErr
}

func collect(seq func(func(datatypes.ChunkEvent, error) bool)) (chunks []datatypes.ChunkEvent, errs []error) {
	seq(func(chunk datatypes.ChunkEvent, err error) bool {
		if err != nil {
			errs = append(errs, err)
		} else {
			chunks = append(chunks, chunk)
		}
		return true
	})
	return chunks, errs
}

func TestMultiplexer_Stream_TextAndDone(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []llm.StreamEvent{
		{Type: llm.StreamEventToken, Content: "Hello"},
		{Type: llm.StreamEventToken, Content: " world"},
		{Type: llm.StreamEventDone},
	}}
	m := NewMultiplexer(map[string]llm.LLMClient{"model-a": client})

	chunks, errs := collect(m.Stream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, "model-a", StreamOptions{}))

	require.Empty(t, errs)
	require.Len(t, chunks, 3)
	assert.Equal(t, datatypes.ChunkText, chunks[0].Type)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, datatypes.ChunkDone, chunks[2].Type)
	assert.Equal(t, "model-a", client.lastModel)
}

func TestMultiplexer_Stream_UnknownModel(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{}
	m := NewMultiplexer(map[string]llm.LLMClient{"model-a": client})

	chunks, errs := collect(m.Stream(context.Background(), nil, "model-x", StreamOptions{}))

	assert.Empty(t, chunks)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownModel)
	// No provider call is made for an unknown model.
	assert.Equal(t, 0, client.callCount)
}

func TestMultiplexer_Stream_ProviderFailureAfterPartialOutput(t *testing.T) {
	t.Parallel()

	providerErr := errors.New("connection reset")
	client := &scriptedClient{
		script:   []llm.StreamEvent{{Type: llm.StreamEventToken, Content: "par"}},
		finalErr: providerErr,
	}
	m := NewMultiplexer(map[string]llm.LLMClient{"model-a": client})

	chunks, errs := collect(m.Stream(context.Background(), nil, "model-a", StreamOptions{}))

	// Partial text is delivered before the error element.
	require.Len(t, chunks, 1)
	assert.Equal(t, "par", chunks[0].Content)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], providerErr)
}

func TestMultiplexer_Stream_ConsumerStopAbortsProvider(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []llm.StreamEvent{
		{Type: llm.StreamEventToken, Content: "1"},
		{Type: llm.StreamEventToken, Content: "2"},
		{Type: llm.StreamEventToken, Content: "3"},
		{Type: llm.StreamEventDone},
	}}
	m := NewMultiplexer(map[string]llm.LLMClient{"model-a": client})

	var seen int
	m.Stream(context.Background(), nil, "model-a", StreamOptions{})(func(chunk datatypes.ChunkEvent, err error) bool {
		require.NoError(t, err)
		seen++
		return seen < 2
	})

	assert.Equal(t, 2, seen)
	// The provider callback was told to stop; no error escapes to the
	// consumer.
	require.Error(t, client.cbErr)
}

func TestMultiplexer_Stream_FiltersThinkingEvents(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{script: []llm.StreamEvent{
		{Type: llm.StreamEventThinking, Content: "pondering"},
		{Type: llm.StreamEventToken, Content: "answer"},
		{Type: llm.StreamEventDone},
	}}
	m := NewMultiplexer(map[string]llm.LLMClient{"model-a": client})

	chunks, errs := collect(m.Stream(context.Background(), nil, "model-a", StreamOptions{}))

	require.Empty(t, errs)
	require.Len(t, chunks, 2)
	assert.Equal(t, datatypes.ChunkText, chunks[0].Type)
	assert.Equal(t, "answer", chunks[0].Content)
}

func TestMultiplexer_Models(t *testing.T) {
	t.Parallel()

	m := NewMultiplexer(map[string]llm.LLMClient{
		"zeta": &scriptedClient{},
		"alpha": &scriptedClient{},
	})
	assert.Equal(t, []string{"alpha", "zeta"}, m.Models())
	assert.True(t, m.Knows("alpha"))
	assert.False(t, m.Knows("beta"))
}
