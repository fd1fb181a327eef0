// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the router service.
//
// This file contains the inbound request type for the streaming chat
// endpoint. For the routing decision union, see decision.go; for stream
// event types, see stream.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Checked in bytes, not runes, to bound memory per request.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxMemoryLimit is the maximum number of memory records a single
	// retrieval may return.
	MaxMemoryLimit = 20

	// DefaultMemoryLimit is used when the caller does not specify one.
	DefaultMemoryLimit = 5
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Streaming Chat Request
// =============================================================================

// StreamChatRequest represents the body of POST /v1/chat/stream.
//
// # Description
//
// One user message plus optional routing controls. The router classifies the
// message, optionally retrieves long-term memory, and streams the completion
// back as framed chunk events.
//
// # Fields
//
//   - RequestID: Optional. Unique identifier (UUID v4); generated server-side
//     when absent. Used for tracing and audit correlation.
//   - Timestamp: Optional. Unix milliseconds (UTC); generated when absent.
//   - Message: Required, non-empty, at most 32KB.
//   - Model: Optional preferred model identifier. Required when SkipRouter
//     is set, since no classifier runs to choose one.
//   - ChatID: Optional conversation identifier for context and persistence.
//   - Temperature: Optional sampling temperature, 0.0-2.0.
//   - MaxTokens: Optional completion token cap.
//   - SkipRouter: When true, the decision classifier is bypassed and a
//     synthetic direct_reply decision for Model is used instead.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, max 32768 bytes via the custom maxbytes validator
//   - Temperature: 0 <= t <= 2 when present
//   - MaxTokens: 1 <= n <= 65536 when present
//
// SkipRouter-without-Model is a semantic error checked in Validate, not a
// tag, because it spans two fields.
type StreamChatRequest struct {
	RequestID   string   `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp   int64    `json:"timestamp" validate:"gte=0"`
	Message     string   `json:"message" validate:"required,maxbytes"`
	Model       string   `json:"model,omitempty"`
	ChatID      string   `json:"chat_id,omitempty"`
	Temperature *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=65536"`
	SkipRouter  bool     `json:"skip_router,omitempty"`
}

// Validate validates the StreamChatRequest fields.
func (r *StreamChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	if r.SkipRouter && r.Model == "" {
		return ErrSkipRouterWithoutModel
	}
	return nil
}

// EnsureDefaults populates RequestID and Timestamp if the client omitted
// them, so every request is traceable.
func (r *StreamChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	if r.ChatID == "" {
		r.ChatID = uuid.New().String()
	}
}
