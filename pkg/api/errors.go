package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/billing"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/pdf"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/storage"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// writeServiceError maps a service error onto a JSON error response.
// Unknown errors are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *plans.QuotaExceededError
	var fieldErrs invoice.ValidationErrors
	var fieldErr *invoice.ValidationError

	switch {
	case errors.As(err, &fieldErrs):
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid invoice", fieldErrs.Fields())
	case errors.As(err, &fieldErr):
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid invoice", map[string]string{fieldErr.Field: fieldErr.Message})
	case errors.As(err, &quotaErr):
		httputil.WriteForbidden(w, quotaErr.Error())
	case errors.Is(err, plans.ErrProRequired):
		httputil.WriteForbidden(w, middleware.ProRequiredMessage)
	case errors.Is(err, invoice.ErrNotFound):
		httputil.WriteNotFoundError(w, "invoice not found")
	case errors.Is(err, users.ErrNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	case errors.Is(err, users.ErrEmailTaken):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, pdf.ErrNotPaid):
		httputil.WriteConflict(w, "invoice must be marked as paid before a receipt can be issued")
	case errors.Is(err, billing.ErrNoActiveSubscription):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, billing.ErrNotConfigured), errors.Is(err, storage.ErrPresignUnsupported):
		httputil.WriteServiceUnavailable(w, "this feature is not available")
	case errors.Is(err, pdf.ErrLogoUnavailable):
		httputil.WriteServiceUnavailable(w, "please try again shortly")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, "internal server error")
	}
}
