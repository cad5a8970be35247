// ABOUTME: Verified claims carried through request handlers
// ABOUTME: Provides WithClaims/FromContext for propagating the caller identity via context

package auth

import (
	"context"
)

// claimsContextKey is the key type for storing Claims in context.Context.
type claimsContextKey struct{}

// WithClaims returns a new context with the verified claims attached.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// FromContext retrieves the claims from the context, returning nil if not present.
// Claims are absent when the gate is not mounted.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return claims
}

// Subject returns the token subject from the context, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	if c := FromContext(ctx); c != nil {
		return c.Subject
	}
	return ""
}
