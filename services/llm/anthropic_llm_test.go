package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropicClient(baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "claude-test",
	}
}

func TestAnthropicClient_BuildPayload_HoistsSystemPrompt(t *testing.T) {
	t.Parallel()

	client := newTestAnthropicClient("http://unused")
	payload := client.buildPayload([]Message{
		{Role: "system", Content: "You are terse."},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again"},
	}, GenerationParams{})

	// The system turn must not appear in the message list.
	require.Len(t, payload.Messages, 3)
	for _, msg := range payload.Messages {
		assert.NotEqual(t, "system", msg.Role)
	}
	require.Len(t, payload.System, 1)
	assert.Equal(t, "You are terse.", payload.System[0].Text)
}

func TestAnthropicClient_BuildPayload_ModelOverride(t *testing.T) {
	t.Parallel()

	client := newTestAnthropicClient("http://unused")
	payload := client.buildPayload([]Message{{Role: "user", Content: "hi"}},
		GenerationParams{ModelOverride: "claude-other"})
	assert.Equal(t, "claude-other", payload.Model)
}

func TestAnthropicClient_ChatStream_DeltasAndStop(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	var tokens []string
	var doneSeen bool
	err := client.ChatStream(context.Background(),
		[]Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			switch event.Type {
			case StreamEventToken:
				tokens = append(tokens, event.Content)
			case StreamEventDone:
				doneSeen = true
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, tokens)
	assert.True(t, doneSeen)
}

func TestAnthropicClient_ChatStream_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	err := client.ChatStream(context.Background(),
		[]Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestAnthropicClient_ChatStream_InBandError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	client := newTestAnthropicClient(server.URL)

	var tokens []string
	err := client.ChatStream(context.Background(),
		[]Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			if event.Type == StreamEventToken {
				tokens = append(tokens, event.Content)
			}
			return nil
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
	assert.Equal(t, []string{"par"}, tokens)
}
