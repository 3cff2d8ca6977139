package api

import (
	"context"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/billing"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/pdf"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// Documents renders and shares invoice PDFs
type Documents interface {
	Invoice(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error)
	Receipt(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error)
	Preview(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error)
	Share(ctx context.Context, inv *invoice.Invoice) (*pdf.Share, error)
}

// Billing manages subscriptions with the payment provider
type Billing interface {
	Enabled() bool
	EnsureCustomer(ctx context.Context, user *users.User) (string, error)
	StartCheckout(ctx context.Context, user *users.User, priceID string) (*billing.CheckoutSession, error)
	ConfirmCheckout(ctx context.Context, sessionID string) string
	CancelSubscription(ctx context.Context, user *users.User) error
	PortalURL(ctx context.Context, user *users.User) (string, error)
	Status(ctx context.Context, user *users.User) (*billing.Status, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// SingleSignOn is an OpenID Connect login flow
type SingleSignOn interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Identity, error)
}

var (
	_ Documents    = (*pdf.Service)(nil)
	_ Billing      = (*billing.Service)(nil)
	_ SingleSignOn = (*auth.OIDCProvider)(nil)
)

// registerRequest is the body of POST /auth/register
type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
}

// loginRequest is the body of POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned by every successful login
type sessionResponse struct {
	Token string      `json:"token"`
	User  *users.User `json:"user"`
}

// checkoutRequest is the optional body of POST /billing/checkout
type checkoutRequest struct {
	PriceID string `json:"price_id"`
}

// redirectResponse carries a provider-hosted URL for the browser
type redirectResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
}

// logoResponse is returned after a logo upload
type logoResponse struct {
	LogoKey string `json:"logo_key"`
}
