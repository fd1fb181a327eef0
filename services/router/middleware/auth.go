// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the router service.
//
// This package contains middleware for authentication, billing gates, and
// per-client rate limiting. Identity and billing backends are external
// collaborators: this package defines the provider seams and ships no-op
// local implementations so the service runs without any infrastructure.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// # Local Behavior
//
// When using NopAuthProvider (default), all requests are authenticated
// as "local-user". This enables local deployments to function without any
// identity infrastructure.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Provider Seam
// =============================================================================

// ErrUnauthorized is returned by AuthProvider implementations when a token
// is missing, expired, or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the authenticated identity attached to a request.
type AuthInfo struct {
	UserID string
	Email  string
	Roles  []string
}

// AuthProvider validates bearer tokens and resolves them to an identity.
//
// Implementations must be safe for concurrent use; Validate is called on
// every request.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a fixed local user,
// including requests with no token at all.
type NopAuthProvider struct{}

func (NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{"admin"}}, nil
}

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
// Using a typed key prevents collisions with other context values.
const authInfoKey = "tidewater_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
//
// # Description
//
// Called by AuthMiddleware after successful authentication. The stored
// AuthInfo can be retrieved by handlers via GetAuthInfo. Only valid for
// the current request; overwrites any previously set auth info.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// # Description
//
// Called by handlers to access the authenticated user's identity.
// Returns nil if no AuthInfo is present (request not authenticated) or if
// the stored value has the wrong type.
//
// # Examples
//
//	authInfo := middleware.GetAuthInfo(c)
//	if authInfo == nil {
//	    c.JSON(401, gin.H{"error": "not authenticated"})
//	    return
//	}
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// using the provided AuthProvider, and stores the resulting AuthInfo in
// the context for downstream handlers. Validation failures abort the
// request with 401 before any handler runs.
//
// If the header is missing or malformed, the token passed to Validate is
// the empty string. NopAuthProvider accepts this and returns local-user.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			// Provider failures (network, identity backend down) also deny.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Expects "Bearer <token>"; the scheme is case-insensitive per RFC 7235.
// Returns the empty string if the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
