// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"fmt"
)

// EmbeddingClient is the slice of the OpenAI client this package needs.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder adapts the OpenAI client to the Embedder interface.
type OpenAIEmbedder struct {
	client EmbeddingClient
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(client EmbeddingClient) *OpenAIEmbedder {
	if client == nil {
		panic("memory: nil embedding client")
	}
	return &OpenAIEmbedder{client: client}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.client.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding returned an empty vector")
	}
	return vector, nil
}
