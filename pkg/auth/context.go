package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/invoicer/pkg/contextkeys"
)

// AuthContext holds the authenticated caller of a request
type AuthContext struct {
	UserID uuid.UUID
	Email  string
}

// WithAuthContext stores the caller in ctx
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	ctx = contextkeys.WithAuth(ctx, ac)
	return contextkeys.WithUserID(ctx, ac.UserID.String())
}

// FromContext returns the caller, or nil for anonymous requests
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac
}
