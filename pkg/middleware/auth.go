package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/observability"
)

// AuthMiddleware validates Bearer session tokens
type AuthMiddleware struct {
	jwt      *auth.JWTManager
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(jwt *auth.JWTManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:      jwt,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.jwt.Validate(token)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := auth.WithAuthContext(r.Context(), &auth.AuthContext{
			UserID: userID,
			Email:  claims.Email,
		})
		logger := observability.FromContext(ctx).WithField("user_id", userID.String())
		ctx = observability.WithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return auth.FromContext(r.Context())
}
