// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mux normalizes heterogeneous provider streams into one uniform
// chunk sequence.
//
// Given a model identifier, the multiplexer resolves the owning provider
// client, opens its streaming call, and republishes provider-native events
// as ChunkEvents. Only text and done events originate here; routing,
// memory_context, fallback and error chunks are added by layers above.
package mux

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("tidewater.router.mux")

// ErrUnknownModel is returned when no provider owns the requested model.
var ErrUnknownModel = errors.New("unknown model")

// errConsumerStopped aborts the provider callback when the consumer stops
// pulling. It never escapes this package.
var errConsumerStopped = errors.New("stream consumer stopped")

// StreamOptions carries the per-request sampling knobs.
type StreamOptions struct {
	Temperature *float32
	MaxTokens   *int
}

// Multiplexer maps model identifiers to provider clients and streams
// completions in the uniform chunk shape.
//
// # Thread Safety
//
// The model registry is fixed at construction; Multiplexer is safe for
// concurrent use.
type Multiplexer struct {
	providers map[string]llm.LLMClient
}

// NewMultiplexer creates a Multiplexer over the given model registry.
// Keys are model identifiers, values the client owning each model. Panics
// on an empty registry or nil client.
func NewMultiplexer(providers map[string]llm.LLMClient) *Multiplexer {
	if len(providers) == 0 {
		panic("mux: empty provider registry")
	}
	for model, client := range providers {
		if client == nil {
			panic("mux: nil client for model " + model)
		}
	}
	return &Multiplexer{providers: providers}
}

// Models returns the registered model identifiers, sorted.
func (m *Multiplexer) Models() []string {
	models := make([]string, 0, len(m.providers))
	for model := range m.providers {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// Knows reports whether any provider owns the model.
func (m *Multiplexer) Knows(model string) bool {
	_, ok := m.providers[model]
	return ok
}

// Stream opens a provider stream for model and returns it as a lazy chunk
// sequence.
//
// # Description
//
// The sequence is single-pass and not restartable; once consumed it cannot
// be iterated again. Consumption is pull-based: the provider call advances
// only while the consumer keeps pulling, and ceasing to pull cancels the
// underlying HTTP stream via context within one scheduler tick.
//
// Sequence elements are (chunk, nil) for text and done events, or
// (zero, err) exactly once if the provider fails; the sequence ends after
// either a done chunk or an error element. An unknown model yields a single
// (zero, ErrUnknownModel) element without any provider call.
func (m *Multiplexer) Stream(ctx context.Context, messages []llm.Message, model string, opts StreamOptions) iter.Seq2[datatypes.ChunkEvent, error] {
	return func(yield func(datatypes.ChunkEvent, error) bool) {
		client, ok := m.providers[model]
		if !ok {
			yield(datatypes.ChunkEvent{}, fmt.Errorf("%w: %q", ErrUnknownModel, model))
			return
		}

		ctx, span := tracer.Start(ctx, "Multiplexer.Stream")
		defer span.End()
		span.SetAttributes(attribute.String("llm.model", model))

		// Cancel the provider call the moment we stop iterating, whether
		// because the consumer stopped pulling or the stream finished.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		params := llm.GenerationParams{
			ModelOverride: model,
			Temperature:   opts.Temperature,
			MaxTokens:     opts.MaxTokens,
		}

		streamErr := client.ChatStream(ctx, messages, params, func(event llm.StreamEvent) error {
			switch event.Type {
			case llm.StreamEventToken:
				if !yield(datatypes.TextChunk(event.Content), nil) {
					return errConsumerStopped
				}
			case llm.StreamEventDone:
				if !yield(datatypes.DoneChunk(), nil) {
					return errConsumerStopped
				}
			default:
				// Thinking and provider-internal events do not cross this
				// boundary.
			}
			return nil
		})

		if streamErr == nil || errors.Is(streamErr, errConsumerStopped) {
			return
		}

		slog.Warn("Provider stream failed", "model", model, "error", streamErr)
		span.RecordError(streamErr)
		yield(datatypes.ChunkEvent{}, streamErr)
	}
}
