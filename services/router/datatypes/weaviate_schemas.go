// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// UserMemoryClass is the Weaviate class holding per-user long-term memory.
const UserMemoryClass = "UserMemory"

// ConversationClass is the Weaviate class holding persisted chat turns.
const ConversationClass = "Conversation"

// GetUserMemorySchema returns the class definition for long-term memory.
// Vectors are supplied by us at write time (Vectorizer "none"); retrieval
// filters on user_id so one user's memories never leak into another's
// context.
func GetUserMemorySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       UserMemoryClass,
		Description: "A searchable long-term memory snippet owned by one user.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The memory text presented to the model as context.",
				Tokenization: "word",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Owner of this memory. Every search filters on it.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chat_id",
				DataType:        []string{"text"},
				Description:     "The conversation this memory originated from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "classification",
				DataType:        []string{"text"},
				Description:     "Data classification label from the policy engine.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the memory was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetConversationSchema returns the class definition for persisted turns.
func GetConversationSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ConversationClass,
		Description: "A record of a user question and the AI's answer.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "chat_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the conversation session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "The authenticated user who owns the session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The user's message.",
				Tokenization: "word",
			},
			{
				Name:         "answer",
				DataType:     []string{"text"},
				Description:  "The streamed completion, reassembled.",
				Tokenization: "word",
			},
			{
				Name:            "model",
				DataType:        []string{"text"},
				Description:     "The model that produced the final answer.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "classification",
				DataType:        []string{"text"},
				Description:     "Data classification label from the policy engine.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "fallback_used",
				DataType:        []string{"boolean"},
				Description:     "True if the answer required a model substitution.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "The timestamp of the conversation turn.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the router's classes if they do not exist.
// Called once at startup; a class that cannot be created is fatal since
// nothing downstream can work without it.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetUserMemorySchema,
		GetConversationSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// The client errors when the class is absent. Create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
