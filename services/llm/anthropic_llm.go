package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicContent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent covers the SSE payloads we care about. The messages
// API emits typed events; text arrives as content_block_delta/text_delta.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error,omitempty"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	model := os.Getenv("CLAUDE_MODEL")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from Podman Secrets")
		}
	}

	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

// buildPayload converts the generic turn list into the Anthropic shape.
// The messages API rejects system turns inside the message list, so the
// system prompt is hoisted into the top-level system blocks.
func (a *AnthropicClient) buildPayload(messages []Message, params GenerationParams) anthropicRequest {
	var apiMessages []anthropicMessage
	var systemPrompt string

	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{
			Type: "text",
			Text: systemPrompt,
		}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	payload := anthropicRequest{
		Model:     model,
		Messages:  apiMessages,
		System:    systemBlocks,
		MaxTokens: 4096,
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	}
	if params.TopK != nil {
		payload.TopK = params.TopK
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		payload.StopSeqs = params.Stop
	}
	return payload
}

func (a *AnthropicClient) newRequest(ctx context.Context, payload anthropicRequest) (*http.Request, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	return req, nil
}

// Generate implements the LLMClient interface
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []Message{
		{Role: "user", Content: prompt},
	}
	return a.Chat(ctx, messages, params)
}

func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	payload := a.buildPayload(messages, params)

	req, err := a.newRequest(ctx, payload)
	if err != nil {
		return "", err
	}

	slog.Debug("Sending REST request to Anthropic", "model", payload.Model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("received empty content from Anthropic")
	}

	finalText := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
	}

	if finalText == "" {
		return "", fmt.Errorf("received content but no text block found")
	}

	return finalText, nil
}

// ChatStream implements the LLMClient interface
func (a *AnthropicClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {

	payload := a.buildPayload(messages, params)
	payload.Stream = true

	req, err := a.newRequest(ctx, payload)
	if err != nil {
		return err
	}
	req.Header.Set("accept", "text/event-stream")

	slog.Debug("Opening Anthropic completion stream", "model", payload.Model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			slog.Warn("Skipping unparseable Anthropic stream event", "error", err)
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: event.Delta.Text}); cbErr != nil {
				return cbErr
			}
		case "message_stop":
			return callback(StreamEvent{Type: StreamEventDone})
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic stream error: %s - %s", event.Error.Type, event.Error.Message)
			}
			return fmt.Errorf("anthropic stream error")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("anthropic stream read failed: %w", err)
	}

	return fmt.Errorf("anthropic stream ended without message_stop")
}
