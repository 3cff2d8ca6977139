package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/invoicer/pkg/billing"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
)

// maxWebhookBytes bounds a webhook payload; provider events are far smaller
const maxWebhookBytes = 1 << 20

// createCustomer handles POST /billing/customer
func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := s.billing.EnsureCustomer(r.Context(), middleware.GetUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]string{"customer_id": customerID})
}

// createCheckout handles POST /billing/checkout. The body is optional and
// may name a price other than the pro plan's.
func (s *Server) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	session, err := s.billing.StartCheckout(r.Context(), middleware.GetUser(r), req.PriceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, redirectResponse{URL: session.URL, SessionID: session.ID})
}

// cancelSubscription handles POST /billing/cancel
func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.billing.CancelSubscription(r.Context(), middleware.GetUser(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]string{"status": "canceled", "plan": "free"})
}

// createPortal handles POST /billing/portal
func (s *Server) createPortal(w http.ResponseWriter, r *http.Request) {
	url, err := s.billing.PortalURL(r.Context(), middleware.GetUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, redirectResponse{URL: url})
}

// subscription handles GET /billing/subscription
func (s *Server) subscription(w http.ResponseWriter, r *http.Request) {
	status, err := s.billing.Status(r.Context(), middleware.GetUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, status)
}

// checkoutSuccess handles GET /billing/success, where the provider sends
// the browser after checkout. It always redirects to the dashboard.
func (s *Server) checkoutSuccess(w http.ResponseWriter, r *http.Request) {
	target := s.billing.ConfirmCheckout(r.Context(), r.URL.Query().Get("session_id"))
	http.Redirect(w, r, target, http.StatusFound)
}

// billingWebhook handles POST /billing/webhook. Any error other than a bad
// signature answers 500 so the provider redelivers the event.
func (s *Server) billingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	err = s.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		_ = httputil.WriteSuccess(w, map[string]bool{"received": true})
	case errors.Is(err, billing.ErrInvalidSignature):
		httputil.WriteBadRequest(w, "invalid signature")
	case errors.Is(err, billing.ErrWebhookNotConfigured):
		observability.FromContext(r.Context()).Error("Webhook received but no webhook secret is configured")
		httputil.WriteInternalError(w, "webhook not configured")
	default:
		httputil.WriteInternalError(w, "webhook processing failed")
	}
}
