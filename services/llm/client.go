package llm

import "context"

// Message is a single conversation turn in the provider-neutral shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// ModelOverride selects a specific model for this call instead of the
	// client's configured default.
	ModelOverride string `json:"model_override,omitempty"`
}

type StreamEventType string

const (
	StreamEventToken    StreamEventType = "token"
	StreamEventThinking StreamEventType = "thinking"
	StreamEventDone     StreamEventType = "done"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is one increment of a streaming completion.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content"`
}

// StreamCallback receives stream events as they arrive. Returning a non-nil
// error aborts the in-flight provider call; the client must stop reading and
// release the connection.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}
