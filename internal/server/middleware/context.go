package middleware

import (
	"context"

	"github.com/gosuda/chatlog/internal/auth"
)

type contextKey string

const ContextKeyClaims contextKey = "claims"

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	v, ok := ctx.Value(ContextKeyClaims).(*auth.Claims)
	return v, ok && v != nil
}

// WithClaims returns ctx carrying claims, as Auth would store them.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}
