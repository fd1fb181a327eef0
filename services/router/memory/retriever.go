// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory retrieves and stores per-user long-term memory.
//
// Retrieval embeds a query and runs a similarity search over the user's
// partition of the vector store. Memory is an enrichment, not a
// correctness requirement, of the final answer: every failure in this
// package degrades to an empty result rather than aborting the request.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("tidewater.router.memory")

// maxEmbedLength truncates over-long queries before embedding. Embedding
// models have hard input limits and the tail of a long message rarely
// changes retrieval relevance.
const maxEmbedLength = 8192

// Embedder computes the vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a similarity search over one user's memory partition.
type Searcher interface {
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]datatypes.MemoryRecord, error)
}

// Retriever is the memory retrieval pipeline: embed, then search.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	timeout  time.Duration
}

// NewRetriever creates a Retriever. Panics on nil dependencies.
func NewRetriever(embedder Embedder, searcher Searcher) *Retriever {
	if embedder == nil {
		panic("memory: nil embedder")
	}
	if searcher == nil {
		panic("memory: nil searcher")
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		timeout:  15 * time.Second,
	}
}

// Retrieve returns up to limit ranked memories for the user.
//
// # Description
//
// The query is embedded and searched against the user's partition. Failures
// are contained here: an embedding or search error is logged, counted, and
// returned as an empty slice, indistinguishable from "no relevant memories
// found". The caller never needs an error path for retrieval.
//
// # Inputs
//
//   - ctx: Request context; a private timeout is layered on top.
//   - userID: Partition owner. Must not be empty.
//   - query: Search text, normally the routing decision's query field.
//   - limit: Maximum records; clamped to [1, MaxMemoryLimit].
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, limit int) []datatypes.MemoryRecord {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("memory.limit", limit))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = datatypes.DefaultMemoryLimit
	}
	if limit > datatypes.MaxMemoryLimit {
		limit = datatypes.MaxMemoryLimit
	}

	if len(query) > maxEmbedLength {
		query = query[:maxEmbedLength]
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Memory embedding failed, continuing without memory context",
			"userId", userID, "error", err)
		observability.DefaultMetrics.RecordRetrievalFailure("embed")
		span.AddEvent("embedding failed")
		return nil
	}

	records, err := r.searcher.Search(ctx, userID, vector, limit)
	if err != nil {
		slog.Warn("Memory search failed, continuing without memory context",
			"userId", userID, "error", err)
		observability.DefaultMetrics.RecordRetrievalFailure("search")
		span.AddEvent("search failed")
		return nil
	}

	span.SetAttributes(attribute.Int("memory.count", len(records)))
	slog.Debug("Retrieved memory records", "userId", userID, "count", len(records))
	return records
}
