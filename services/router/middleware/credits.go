// Copyright (C) 2025 Tidewater AI (dev@tidewater.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrInsufficientCredits is returned by CreditProvider.Check when the
// caller's balance is exhausted.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CreditProvider is the billing seam. The real ledger lives outside this
// service; the router only checks the balance before streaming and debits
// it afterwards.
//
// Implementations must be safe for concurrent use.
type CreditProvider interface {
	// Check returns ErrInsufficientCredits when the user cannot start a
	// completion, nil when they can.
	Check(ctx context.Context, userID string) error

	// Decrement debits the user's balance by the given token count. Called
	// fire-and-forget after a stream completes; errors are logged, never
	// surfaced to the user.
	Decrement(ctx context.Context, userID string, tokens int) error
}

// NopCreditProvider grants unlimited credit. It is the default for local
// deployments with no billing backend.
type NopCreditProvider struct{}

func (NopCreditProvider) Check(_ context.Context, _ string) error { return nil }

func (NopCreditProvider) Decrement(_ context.Context, _ string, _ int) error { return nil }

// CreditMiddleware creates a Gin middleware that gates requests on the
// caller's credit balance.
//
// # Description
//
// Runs after AuthMiddleware and checks the authenticated user's balance.
// An exhausted balance aborts the request with 403 before the completion
// subsystem is invoked. A billing backend failure is treated as a denial;
// streaming tokens that cannot be billed is worse than refusing.
func CreditMiddleware(provider CreditProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := "anonymous"
		if info := GetAuthInfo(c); info != nil {
			userID = info.UserID
		}

		if err := provider.Check(c.Request.Context(), userID); err != nil {
			if errors.Is(err, ErrInsufficientCredits) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "insufficient credits",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "billing check failed",
			})
			return
		}

		c.Next()
	}
}
