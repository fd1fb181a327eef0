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
	"log/slog"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// Store writes memory snippets back to the user's partition so later
// requests can retrieve them. Used by the post-stream finalizer, off the
// streaming critical path.
type Store struct {
	client   *weaviate.Client
	embedder Embedder
}

func NewStore(client *weaviate.Client, embedder Embedder) *Store {
	if client == nil {
		panic("memory: nil weaviate client")
	}
	if embedder == nil {
		panic("memory: nil embedder")
	}
	return &Store{client: client, embedder: embedder}
}

// SaveTurnMemory stores a finished chat turn as a searchable memory.
//
// # Description
//
// The turn is formatted the same way retrieval presents memories to the
// model, embedded, and written with its vector. Runs in the background
// after the stream closed; errors are logged, never surfaced.
func (s *Store) SaveTurnMemory(ctx context.Context, userID, chatID, question, answer, classification string) error {
	content := fmt.Sprintf("User: %s\nAI: %s", question, answer)

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		slog.Error("Failed to embed chat memory", "chatId", chatID, "error", err)
		return fmt.Errorf("failed to embed chat memory: %w", err)
	}

	properties := map[string]interface{}{
		"content":        content,
		"user_id":        userID,
		"chat_id":        chatID,
		"classification": classification,
		"created_at":     time.Now().UnixMilli(),
	}

	_, err = s.client.Data().Creator().
		WithClassName(datatypes.UserMemoryClass).
		WithProperties(properties).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to save chat memory to Weaviate", "chatId", chatID, "error", err)
		return fmt.Errorf("failed to save chat memory: %w", err)
	}

	slog.Info("Saved chat turn to user memory", "userId", userID, "chatId", chatID)
	return nil
}

// SaveConversationTurn records the raw turn in the Conversation class for
// history and audit.
func (s *Store) SaveConversationTurn(ctx context.Context, userID, chatID, question, answer, model, classification string, fallbackUsed bool) error {
	properties := map[string]interface{}{
		"chat_id":        chatID,
		"user_id":        userID,
		"question":       question,
		"answer":         answer,
		"model":          model,
		"classification": classification,
		"fallback_used":  fallbackUsed,
		"timestamp":      time.Now().UnixMilli(),
	}

	_, err := s.client.Data().Creator().
		WithClassName(datatypes.ConversationClass).
		WithProperties(properties).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to persist conversation turn", "chatId", chatID, "error", err)
		return fmt.Errorf("failed to persist conversation turn: %w", err)
	}

	slog.Debug("Persisted conversation turn", "chatId", chatID, "model", model)
	return nil
}
