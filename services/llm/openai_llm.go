package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (o *OpenAIClient) resolveModel(params GenerationParams) string {
	if params.ModelOverride != "" {
		return params.ModelOverride
	}
	return o.model
}

func (o *OpenAIClient) buildRequest(messages []openai.ChatCompletionMessage, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.resolveModel(params),
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", o.resolveModel(params))
	req := o.buildRequest([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, params)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message,
	params GenerationParams, callback StreamCallback) error {

	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	req := o.buildRequest(apiMessages, params)
	req.Stream = true

	slog.Debug("Opening OpenAI completion stream", "model", req.Model)
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("OpenAI stream open failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return callback(StreamEvent{Type: StreamEventDone})
		}
		if err != nil {
			return fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: delta}); cbErr != nil {
			return cbErr
		}
	}
}

// CreateEmbedding returns the embedding vector for a single piece of text.
func (o *OpenAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embModel := os.Getenv("OPENAI_EMBEDDING_MODEL")
	if embModel == "" {
		embModel = string(openai.SmallEmbedding3)
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(embModel),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}
