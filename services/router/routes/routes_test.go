// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TidewaterAI/TidewaterFOSS/services/llm"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/datatypes"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/handlers"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/middleware"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/mux"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedClassifier struct{}

func (fixedClassifier) Classify(_ context.Context, _ string, _ []string) (*datatypes.RouteDecision, error) {
	return &datatypes.RouteDecision{Type: datatypes.DecisionDirectReply, Model: "llama3.1"}, nil
}

type emptyRunner struct{}

func (emptyRunner) Run(_ context.Context, _ []llm.Message, _ string, _ mux.StreamOptions) iter.Seq[datatypes.ChunkEvent] {
	return func(yield func(datatypes.ChunkEvent) bool) {
		yield(datatypes.DoneChunk())
	}
}

func testEngine() *gin.Engine {
	router := gin.New()
	SetupRoutes(router, Options{
		ChatStream: handlers.NewChatStreamHandler(fixedClassifier{}, nil, emptyRunner{}, nil),
	})
	return router
}

func TestSetupRoutes_CoreRoutesRegistered(t *testing.T) {
	router := testEngine()

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat/stream"},
	}

	registered := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range registered {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
}

func TestSetupRoutes_HealthIsUnauthenticated(t *testing.T) {
	router := testEngine()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestSetupRoutes_MetricsExposed(t *testing.T) {
	router := testEngine()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	// default registry always carries the Go runtime collector
	assert.Contains(t, recorder.Body.String(), "go_goroutines")
}

type denyAllAuth struct{}

func (denyAllAuth) Validate(_ context.Context, _ string) (*middleware.AuthInfo, error) {
	return nil, middleware.ErrUnauthorized
}

func TestSetupRoutes_V1RequiresAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Options{
		ChatStream: handlers.NewChatStreamHandler(fixedClassifier{}, nil, emptyRunner{}, nil),
		Auth:       denyAllAuth{},
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/chat/stream", nil))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
