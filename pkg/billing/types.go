package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoActiveSubscription is returned when a cancel finds nothing to cancel
	ErrNoActiveSubscription = errors.New("No active subscription found")

	// ErrInvalidSignature is returned for webhook payloads that fail verification
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrWebhookNotConfigured is returned when no webhook secret is set
	ErrWebhookNotConfigured = errors.New("webhook secret not configured")

	// ErrNotConfigured is returned when billing is disabled
	ErrNotConfigured = errors.New("billing is not configured")
)

// SubscriptionStatus mirrors the provider's subscription states
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// GrantsPro reports whether a subscription in this state entitles the
// customer to the pro plan
func (s SubscriptionStatus) GrantsPro() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Event types the webhook acts on
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

const (
	checkoutPaymentStatusPaid = "paid"
	metadataUserID            = "user_id"
	metadataEmail             = "email"
)

// Subscription is the locally recorded state of a provider subscription
type Subscription struct {
	ID                string             `json:"id"`
	UserID            *uuid.UUID         `json:"user_id,omitempty"`
	CustomerID        string             `json:"customer_id"`
	Status            SubscriptionStatus `json:"status"`
	PriceID           string             `json:"price_id,omitempty"`
	CurrentPeriodEnd  *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	LastEventAt       time.Time          `json:"-"`
}

// CheckoutRequest starts a hosted subscription checkout
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	UserID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the subset of a provider checkout session we use
type CheckoutSession struct {
	ID                string
	URL               string
	PaymentStatus     string
	ClientReferenceID string
	CustomerID        string
	CustomerEmail     string
	// SubscriptionID is set once a subscription-mode session completes
	SubscriptionID string
}

// Paid reports whether the session collected payment
func (c *CheckoutSession) Paid() bool {
	return c.PaymentStatus == checkoutPaymentStatusPaid
}

// Event is a verified webhook event
type Event struct {
	ID      string
	Type    string
	Created time.Time

	// Exactly one of these is set, depending on Type
	Checkout     *CheckoutSession
	Subscription *Subscription
}

// Gateway is the payment provider
type Gateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	// CancelActiveSubscription cancels the customer's active subscription,
	// or returns ErrNoActiveSubscription
	CancelActiveSubscription(ctx context.Context, customerID string) error
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// ConstructEvent verifies the signature header and decodes the payload.
	// Verification failures wrap ErrInvalidSignature.
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
}

// Status summarises a user's plan and subscription
type Status struct {
	Plan         string        `json:"plan"`
	IsPro        bool          `json:"is_pro"`
	HasCustomer  bool          `json:"has_customer"`
	Subscription *Subscription `json:"subscription,omitempty"`
}
