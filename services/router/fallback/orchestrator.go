// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fallback drives the completion multiplexer across an ordered
// candidate chain, switching models mid-stream when the active one fails.
//
// The traversal is the state machine
//
//	TRYING(i) -> SUCCEEDED     candidate i streamed to completion
//	TRYING(i) -> TRYING(i+1)   candidate i failed; one fallback event emitted
//	TRYING(last) -> EXHAUSTED  every candidate failed; one error event emitted
//
// The index only moves forward: a candidate that failed is never retried
// within the same request. Every provider failure is treated as
// retryable-by-substitution, never retryable-in-place.
package fallback

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/mux"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("tidewater.router.fallback")

// DefaultAttemptTimeout bounds one candidate's whole streaming call.
// Exceeding it is an ordinary failure and triggers the fallback
// transition, exactly like a thrown provider error.
const DefaultAttemptTimeout = 120 * time.Second

// StreamOpener is the slice of the multiplexer the orchestrator drives.
type StreamOpener interface {
	Stream(ctx context.Context, messages []llm.Message, model string, opts mux.StreamOptions) iter.Seq2[datatypes.ChunkEvent, error]
}

// Orchestrator owns the fallback traversal for completion streams.
//
// # Thread Safety
//
// The orchestrator itself is stateless between requests; all traversal
// state is local to one Run call. Safe for concurrent use.
type Orchestrator struct {
	opener         StreamOpener
	chains         *ChainConfig
	attemptTimeout time.Duration
}

// NewOrchestrator creates an Orchestrator. The chain config is injected
// here so it can be swapped per test or per tenant. Panics on nil opener.
func NewOrchestrator(opener StreamOpener, chains *ChainConfig) *Orchestrator {
	if opener == nil {
		panic("fallback: nil stream opener")
	}
	return &Orchestrator{
		opener:         opener,
		chains:         chains,
		attemptTimeout: DefaultAttemptTimeout,
	}
}

// traversal is the request-local state of one chain walk. index is
// strictly increasing; there is no operation that lowers it.
type traversal struct {
	index  int
	models []string
	active string
}

// Run streams a completion for primary, substituting alternates on failure.
//
// # Description
//
// Returns a lazy, single-pass chunk sequence. Events from the active
// candidate are forwarded verbatim. When a candidate fails, one fallback
// event with previous_model/new_model metadata is emitted and the next
// candidate's output is appended; partial text already emitted is kept,
// never retracted. Keeping the partial output trades response coherence
// for stream continuity, and the fallback event marks the seam for
// clients that want to render it.
//
// When every candidate fails, exactly one error event mentioning
// exhaustion ends the sequence, with no done event after it.
//
// Client cancellation is not a failure: if the parent context ends or the
// consumer stops pulling, the sequence halts with no fallback or error
// event.
func (o *Orchestrator) Run(ctx context.Context, messages []llm.Message, primary string, opts mux.StreamOptions) iter.Seq[datatypes.ChunkEvent] {
	return func(yield func(datatypes.ChunkEvent) bool) {
		ctx, span := tracer.Start(ctx, "Orchestrator.Run")
		defer span.End()
		span.SetAttributes(attribute.String("router.primary_model", primary))

		state := traversal{models: o.chains.Candidates(primary)}

		var lastErr error
		for ; state.index < len(state.models); state.index++ {
			state.active = state.models[state.index]
			span.AddEvent("trying candidate " + state.active)

			attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
			consumerStopped, attemptErr := o.runCandidate(attemptCtx, messages, state.active, opts, yield)
			cancel()

			if consumerStopped {
				// The transport stopped pulling. Not an error, nothing
				// more to emit.
				return
			}
			if attemptErr == nil {
				// SUCCEEDED: the candidate streamed to completion.
				return
			}
			if ctx.Err() != nil {
				// Client cancellation mid-attempt; do not treat as a
				// provider failure.
				slog.Info("Stream cancelled by client", "model", state.active)
				return
			}

			lastErr = attemptErr
			slog.Warn("Candidate model failed, considering fallback",
				"model", state.active, "chain_index", state.index, "error", attemptErr)

			if next := state.index + 1; next < len(state.models) {
				// TRYING(i) -> TRYING(i+1)
				newModel := state.models[next]
				observability.DefaultMetrics.RecordFallback(state.active, newModel)
				if !yield(datatypes.FallbackChunk(state.active, newModel)) {
					return
				}
			}
		}

		// EXHAUSTED: every candidate failed.
		observability.DefaultMetrics.RecordChainExhausted(primary)
		span.AddEvent("chain exhausted")
		slog.Error("All candidate models exhausted", "primary", primary,
			"attempts", len(state.models), "last_error", lastErr)
		yield(datatypes.ErrorChunk(fmt.Sprintf(
			"all candidate models exhausted after %d attempt(s); the last provider was unavailable",
			len(state.models))))
	}
}

// runCandidate consumes one multiplexer stream, forwarding its chunks.
// Reports whether the consumer stopped pulling, and the provider error
// (nil on clean completion).
func (o *Orchestrator) runCandidate(ctx context.Context, messages []llm.Message, model string, opts mux.StreamOptions, yield func(datatypes.ChunkEvent) bool) (bool, error) {
	for chunk, err := range o.opener.Stream(ctx, messages, model, opts) {
		if err != nil {
			return false, err
		}
		if !yield(chunk) {
			return true, nil
		}
	}
	return false, nil
}
