// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/google/uuid"
)

// terminalSentinel closes every stream. It is a bare data frame whose
// payload is not a JSON object, so it can never be confused with a chunk.
const terminalSentinel = "[DONE]"

// =============================================================================
// Interface Definition
// =============================================================================

// StreamWriter defines the contract for writing the chunk event stream to
// an HTTP response.
//
// # Description
//
// StreamWriter abstracts SSE serialization and writing, enabling
// testability and separation from HTTP response mechanics. Each chunk is
// written as one framed event (event: type\ndata: json\n\n) and flushed
// immediately; the writer never buffers across events, so the first byte
// reaches the client before the response is complete.
//
// Each chunk is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of chunk content for integrity
//   - PrevHash: Hash of previous chunk for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the heartbeat goroutine
// writes keep-alives while the pipeline writes chunks.
type StreamWriter interface {
	// WriteChunk writes a single chunk event and flushes it.
	WriteChunk(event datatypes.ChunkEvent) error

	// WriteSentinel writes the terminal [DONE] frame that ends every
	// stream. It is syntactically distinguishable from all data frames
	// and must be the last write.
	WriteSentinel() error

	// WriteKeepAlive sends an SSE comment (": ping") to prevent
	// intermediary timeouts. Comments are not events and do not touch
	// the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseStreamWriter implements StreamWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher interface for immediate send
//   - sessionId: Stamped onto every chunk
//   - prevHash: Hash of the last written chunk (for chain)
//   - mu: Mutex for thread-safe writes
//
// # Limitations
//
//   - Cannot be reused across requests
type sseStreamWriter struct {
	writer    http.ResponseWriter
	flusher   http.Flusher
	sessionId string
	prevHash  string
	mu        sync.Mutex
}

// NewStreamWriter creates a StreamWriter for the given ResponseWriter.
// The caller must have set SSE headers via SetSSEHeaders first. Returns an
// error if the ResponseWriter cannot flush.
func NewStreamWriter(w http.ResponseWriter, sessionId string) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseStreamWriter{
		writer:    w,
		flusher:   flusher,
		sessionId: sessionId,
		prevHash:  "",
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteChunk populates chunk metadata (Id, SessionId, CreatedAt, Hash,
// PrevHash), serializes to JSON, writes one SSE frame and flushes.
func (w *sseStreamWriter) WriteChunk(event datatypes.ChunkEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.SessionId = w.sessionId
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	// Compute hash of event content (before setting Hash field)
	event.Hash = computeChunkHash(event)

	// Update chain for next event
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	// Write SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteSentinel writes the terminal framing marker and flushes.
func (w *sseStreamWriter) WriteSentinel() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", terminalSentinel); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseStreamWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeChunkHash computes the SHA-256 hash of chunk content.
//
// Hashes identity and content fields plus the serialized metadata so the
// chain covers fallback annotations and memory counts, not just text.
func computeChunkHash(event datatypes.ChunkEvent) string {
	metadataJSON := ""
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			metadataJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.SessionId,
		metadataJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamWriter = (*sseStreamWriter)(nil)
