// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/TidewaterAI/TidewaterFOSS/services/router/handlers"
	"github.com/TidewaterAI/TidewaterFOSS/services/router/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the collaborators the route tree needs. Zero-value
// provider fields fall back to the local no-op implementations.
type Options struct {
	ChatStream  *handlers.ChatStreamHandler
	Auth        middleware.AuthProvider
	Credits     middleware.CreditProvider
	RateLimiter *middleware.RateLimiter
}

// SetupRoutes wires the HTTP surface.
//
// /health and /metrics are unauthenticated; everything under /v1 sits
// behind auth, the credit gate and the per-client rate limiter, in that
// order.
func SetupRoutes(router *gin.Engine, opts Options) {
	if opts.Auth == nil {
		opts.Auth = middleware.NopAuthProvider{}
	}
	if opts.Credits == nil {
		opts.Credits = middleware.NopCreditProvider{}
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.Auth))
	v1.Use(middleware.CreditMiddleware(opts.Credits))
	if opts.RateLimiter != nil {
		v1.Use(opts.RateLimiter.Middleware())
	}
	{
		v1.POST("/chat/stream", opts.ChatStream.HandleChatStream)
	}
}
