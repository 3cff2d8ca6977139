package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/invoicer/pkg/contextkeys"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// ProRequiredMessage is the 403 body for pro-only features
const ProRequiredMessage = "This feature requires a Pro plan"

// QuotaMiddleware loads the caller's account and applies plan limits.
//
// It must run inside AuthMiddleware. Without an auth context every check
// answers 401.
type QuotaMiddleware struct {
	users    users.Repository
	enforcer *plans.Enforcer
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(repo users.Repository, enforcer *plans.Enforcer) *QuotaMiddleware {
	return &QuotaMiddleware{
		users:    repo,
		enforcer: enforcer,
	}
}

// LoadUser puts the caller's user record in the request context
func (m *QuotaMiddleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r) != nil {
			next.ServeHTTP(w, r)
			return
		}
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		user, err := m.users.GetByID(r.Context(), authCtx.UserID)
		if errors.Is(err, users.ErrNotFound) {
			httputil.WriteUnauthorized(w, "account no longer exists")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Failed to load user")
			httputil.WriteInternalError(w, "failed to load account")
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EnforceInvoiceQuota rejects invoice creation once the monthly limit is
// reached. Invoice creation re-checks under a row lock, so this only
// spares a doomed request the work.
func (m *QuotaMiddleware) EnforceInvoiceQuota(next http.Handler) http.Handler {
	return m.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.enforcer.CheckInvoiceQuota(GetUser(r).Account()); err != nil {
			var quotaErr *plans.QuotaExceededError
			if errors.As(err, &quotaErr) {
				httputil.WriteForbidden(w, quotaErr.Error())
				return
			}
			observability.FromContext(r.Context()).WithError(err).Error("Quota check failed")
			httputil.WriteInternalError(w, "failed to check invoice quota")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireFeature rejects callers whose plan lacks feature
func (m *QuotaMiddleware) RequireFeature(feature plans.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := m.enforcer.RequireFeature(GetUser(r).Account(), feature); err != nil {
				httputil.WriteForbidden(w, ProRequiredMessage)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// GetUser returns the user loaded by LoadUser, or nil
func GetUser(r *http.Request) *users.User {
	user, _ := r.Context().Value(contextkeys.UserKey).(*users.User)
	return user
}
