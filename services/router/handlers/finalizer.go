// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/router/middleware"
)

// DefaultFinalizeTimeout bounds the fire-and-forget persistence work that
// runs after a stream closes.
const DefaultFinalizeTimeout = 30 * time.Second

// TurnPersister writes a finished question/answer pair to storage. The
// memory.Store satisfies this.
type TurnPersister interface {
	SaveTurnMemory(ctx context.Context, userID, chatID, question, answer, classification string) error
	SaveConversationTurn(ctx context.Context, userID, chatID, question, answer, model, classification string, fallbackUsed bool) error
}

// DataClassifier tags content with a classification name. The policy
// engine satisfies this.
type DataClassifier interface {
	ClassifyData(data []byte) string
}

// Finalizer runs the post-stream bookkeeping: persist the turn, tag it
// with a data classification, and debit the caller's credit balance.
//
// # Description
//
// FinalizeTurn is called in its own goroutine after a stream closes
// successfully. It uses a fresh background context with its own timeout;
// the client connection is already gone and must not cancel persistence.
// Failures are logged and never surface to the user.
type Finalizer struct {
	store   TurnPersister
	credits middleware.CreditProvider
	policy  DataClassifier
	timeout time.Duration
}

// NewFinalizer creates a Finalizer. Any collaborator may be nil; the
// corresponding step is skipped.
func NewFinalizer(store TurnPersister, credits middleware.CreditProvider, policy DataClassifier) *Finalizer {
	return &Finalizer{
		store:   store,
		credits: credits,
		policy:  policy,
		timeout: DefaultFinalizeTimeout,
	}
}

// FinishedTurn is the record of one completed stream.
type FinishedTurn struct {
	UserID       string
	ChatID       string
	Question     string
	Answer       string
	Model        string
	FallbackUsed bool
	Tokens       int
}

// FinalizeTurn persists the turn and debits credits. Safe to call from a
// goroutine; never panics on nil collaborators.
func (f *Finalizer) FinalizeTurn(turn FinishedTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	classification := "public"
	if f.policy != nil {
		classification = f.policy.ClassifyData([]byte(turn.Question + "\n" + turn.Answer))
	}

	if f.store != nil {
		if err := f.store.SaveConversationTurn(ctx, turn.UserID, turn.ChatID,
			turn.Question, turn.Answer, turn.Model, classification, turn.FallbackUsed); err != nil {
			slog.Warn("Failed to persist conversation turn",
				"chatId", turn.ChatID, "error", err)
		}
		if err := f.store.SaveTurnMemory(ctx, turn.UserID, turn.ChatID,
			turn.Question, turn.Answer, classification); err != nil {
			slog.Warn("Failed to persist turn memory",
				"chatId", turn.ChatID, "error", err)
		}
	}

	if f.credits != nil {
		if err := f.credits.Decrement(ctx, turn.UserID, turn.Tokens); err != nil {
			slog.Warn("Failed to decrement credits",
				"userId", turn.UserID, "tokens", turn.Tokens, "error", err)
		}
	}
}
