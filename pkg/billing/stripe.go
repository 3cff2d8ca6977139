package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway implements Gateway on the Stripe API
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway. An empty webhook secret leaves
// ConstructEvent returning ErrWebhookNotConfigured.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

// CreateCustomer creates a customer tagged with our user id
func (g *StripeGateway) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{metadataUserID: userID},
	}
	params.Context = ctx

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession opens a subscription-mode checkout for one seat of
// the requested price
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataUserID: req.UserID,
				metadataEmail:  req.Email,
			},
		},
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return checkoutFromStripe(sess), nil
}

// GetCheckoutSession retrieves a checkout session by id
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return checkoutFromStripe(sess), nil
}

// CancelActiveSubscription cancels the first active subscription of the
// customer immediately
func (g *StripeGateway) CancelActiveSubscription(ctx context.Context, customerID string) error {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := g.api.Subscriptions.List(params)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}
		return ErrNoActiveSubscription
	}

	cancel := &stripe.SubscriptionCancelParams{}
	cancel.Context = ctx
	if _, err := g.api.Subscriptions.Cancel(iter.Subscription().ID, cancel); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

// CreatePortalSession returns a customer portal URL
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructEvent verifies a Stripe-Signature header and decodes the event
func (g *StripeGateway) ConstructEvent(payload []byte, signatureHeader string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}

	raw, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return eventFromStripe(raw)
}

func eventFromStripe(raw stripe.Event) (*Event, error) {
	ev := &Event{
		ID:      raw.ID,
		Type:    string(raw.Type),
		Created: time.Unix(raw.Created, 0).UTC(),
	}
	if raw.Data == nil {
		return ev, nil
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		ev.Checkout = checkoutFromStripe(&sess)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		ev.Subscription = subscriptionFromStripe(&sub)
	}
	return ev, nil
}

func checkoutFromStripe(sess *stripe.CheckoutSession) *CheckoutSession {
	c := &CheckoutSession{
		ID:                sess.ID,
		URL:               sess.URL,
		PaymentStatus:     string(sess.PaymentStatus),
		ClientReferenceID: sess.ClientReferenceID,
		CustomerEmail:     sess.CustomerEmail,
	}
	if sess.Customer != nil {
		c.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		c.SubscriptionID = sess.Subscription.ID
	}
	if c.CustomerEmail == "" && sess.CustomerDetails != nil {
		c.CustomerEmail = sess.CustomerDetails.Email
	}
	return c
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	s := &Subscription{
		ID:                sub.ID,
		Status:            SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		s.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		s.CurrentPeriodEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		s.PriceID = sub.Items.Data[0].Price.ID
	}
	if id, err := uuid.Parse(sub.Metadata[metadataUserID]); err == nil {
		s.UserID = &id
	}
	return s
}
