// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// WeaviateMemorySearcher implements Searcher over the UserMemory class.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateMemorySearcher struct {
	client *weaviate.Client
}

var _ Searcher = (*WeaviateMemorySearcher)(nil)

func NewWeaviateMemorySearcher(client *weaviate.Client) *WeaviateMemorySearcher {
	if client == nil {
		panic("memory: nil weaviate client")
	}
	return &WeaviateMemorySearcher{client: client}
}

// Search runs a nearVector query filtered to the user's partition.
// Certainty (always in [0,1]) is used as the similarity score; Weaviate
// returns results ranked by it, descending.
func (s *WeaviateMemorySearcher) Search(ctx context.Context, userID string, vector []float32, limit int) ([]datatypes.MemoryRecord, error) {
	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.UserMemoryClass).
		WithFields(fields...).
		WithWhere(userFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search returned errors: %v", result.Errors[0].Message)
	}

	return parseMemoryResults(result.Data)
}

// memoryQueryResponse mirrors the GraphQL response shape
// Get -> UserMemory -> [{content, _additional{certainty}}].
type memoryQueryResponse struct {
	Get struct {
		UserMemory []struct {
			Content    string `json:"content"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"UserMemory"`
	} `json:"Get"`
}

// parseMemoryResults converts the loosely typed GraphQL payload through a
// JSON round trip into MemoryRecords. A user with no memories yields a null
// class entry, which unmarshals to an empty slice.
func parseMemoryResults(data any) ([]datatypes.MemoryRecord, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search response: %w", err)
	}

	var parsed memoryQueryResponse
	if err := json.Unmarshal(dataBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	records := make([]datatypes.MemoryRecord, 0, len(parsed.Get.UserMemory))
	for _, object := range parsed.Get.UserMemory {
		if object.Content == "" {
			continue
		}
		records = append(records, datatypes.MemoryRecord{
			Content: object.Content,
			Score:   object.Additional.Certainty,
		})
	}

	slog.Debug("Parsed memory search results", "count", len(records))
	return records, nil
}
