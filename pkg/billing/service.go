package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// Webhook results recorded in metrics
const (
	resultProcessed = "processed"
	resultDuplicate = "duplicate"
	resultIgnored   = "ignored"
	resultStale     = "stale"
	resultError     = "error"
)

// ServiceConfig holds the URLs and price the service needs
type ServiceConfig struct {
	// AppURL is the public base URL, without a trailing slash
	AppURL string
	// ProPriceID is the provider price of the pro plan
	ProPriceID string
}

// Service reconciles users' plans with their provider subscriptions
type Service struct {
	db      *sql.DB
	gateway Gateway
	users   users.Repository
	cfg     ServiceConfig
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewService creates a billing service. A nil gateway disables every
// provider call with ErrNotConfigured.
func NewService(db *sql.DB, gateway Gateway, userRepo users.Repository, cfg ServiceConfig, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		db:      db,
		gateway: gateway,
		users:   userRepo,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.WithField("component", "billing"),
	}
}

// Enabled reports whether a provider is configured
func (s *Service) Enabled() bool {
	return s.gateway != nil
}

// EnsureCustomer returns the user's provider customer, creating it once
func (s *Service) EnsureCustomer(ctx context.Context, user *users.User) (string, error) {
	if s.gateway == nil {
		return "", ErrNotConfigured
	}
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.ID.String())
	if err != nil {
		return "", err
	}
	if err := s.users.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", fmt.Errorf("failed to store customer id: %w", err)
	}
	user.StripeCustomerID = customerID
	return customerID, nil
}

// StartCheckout opens a checkout for priceID, or the pro price when empty
func (s *Service) StartCheckout(ctx context.Context, user *users.User, priceID string) (*CheckoutSession, error) {
	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}
	if priceID == "" {
		priceID = s.cfg.ProPriceID
	}

	return s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     user.ID.String(),
		Email:      user.Email,
		SuccessURL: s.cfg.AppURL + "/api/v1/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.AppURL + "/dashboard?canceled=true",
	})
}

func (s *Service) dashboardURL(key, value string) string {
	return s.cfg.AppURL + "/dashboard?" + url.Values{key: {value}}.Encode()
}

// ConfirmCheckout handles the browser returning from checkout and returns
// the dashboard URL to redirect to
func (s *Service) ConfirmCheckout(ctx context.Context, sessionID string) string {
	logger := s.logger.WithField("session_id", sessionID)
	if s.gateway == nil || sessionID == "" {
		return s.dashboardURL("error", "unknown")
	}

	sess, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		logger.WithError(err).Error("Failed to retrieve checkout session")
		return s.dashboardURL("error", "unknown")
	}
	if !sess.Paid() {
		return s.dashboardURL("error", "payment_incomplete")
	}

	user, err := s.userForCheckout(ctx, sess)
	if err != nil {
		logger.WithError(err).Error("Failed to resolve checkout user")
		return s.dashboardURL("error", "update_failed")
	}
	superseded, err := checkoutSuperseded(ctx, s.db, sess, time.Now())
	if err != nil {
		logger.WithError(err).Error("Failed to check subscription state")
		return s.dashboardURL("error", "update_failed")
	}
	if superseded {
		logger.Info("Checkout subscription already canceled")
		return s.dashboardURL("error", "payment_incomplete")
	}
	if err := s.grantFromCheckout(ctx, user, sess, "checkout_redirect"); err != nil {
		logger.WithError(err).Error("Failed to upgrade user")
		return s.dashboardURL("error", "update_failed")
	}
	return s.dashboardURL("success", "true")
}

// CancelSubscription cancels the active subscription and downgrades the user
func (s *Service) CancelSubscription(ctx context.Context, user *users.User) error {
	if s.gateway == nil {
		return ErrNotConfigured
	}
	if user.StripeCustomerID == "" {
		return ErrNoActiveSubscription
	}
	if err := s.gateway.CancelActiveSubscription(ctx, user.StripeCustomerID); err != nil {
		return err
	}
	return s.setPlan(ctx, user, false, "cancel")
}

// PortalURL returns a provider-hosted page where the user manages billing
func (s *Service) PortalURL(ctx context.Context, user *users.User) (string, error) {
	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	return s.gateway.CreatePortalSession(ctx, customerID, s.cfg.AppURL+"/dashboard")
}

// Status returns the user's plan and latest known subscription
func (s *Service) Status(ctx context.Context, user *users.User) (*Status, error) {
	status := &Status{
		Plan:        string(plans.TierFor(user.IsPro)),
		IsPro:       user.IsPro,
		HasCustomer: user.StripeCustomerID != "",
	}

	query := `
		SELECT stripe_subscription_id, user_id, stripe_customer_id, status, price_id,
		       current_period_end, cancel_at_period_end, last_event_at
		FROM subscriptions
		WHERE user_id = $1 OR stripe_customer_id = $2
		ORDER BY last_event_at DESC
		LIMIT 1
	`
	sub := &Subscription{}
	var userID uuid.NullUUID
	var periodEnd sql.NullTime
	err := s.db.QueryRowContext(ctx, query, user.ID, user.StripeCustomerID).Scan(
		&sub.ID, &userID, &sub.CustomerID, &sub.Status, &sub.PriceID,
		&periodEnd, &sub.CancelAtPeriodEnd, &sub.LastEventAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if userID.Valid {
		sub.UserID = &userID.UUID
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	status.Subscription = sub
	return status, nil
}

// HandleWebhook verifies and applies a provider event. Redelivered events
// are acknowledged without effect.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if s.gateway == nil {
		return ErrWebhookNotConfigured
	}
	ctx, span := observability.StartSpan(ctx, "billing.webhook")
	event, err := s.gateway.ConstructEvent(payload, signatureHeader)
	if err != nil {
		observability.EndSpan(span, err)
		return err
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", event.Type),
	)

	logger := s.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	result, err := s.processEvent(ctx, event, logger)
	span.SetAttributes(attribute.String("webhook.result", result))
	observability.EndSpan(span, err)
	if err != nil {
		s.metrics.WebhookEvent(event.Type, resultError)
		logger.WithError(err).Error("Failed to process webhook event")
		return err
	}
	s.metrics.WebhookEvent(event.Type, result)
	logger.WithField("result", result).Info("Processed webhook event")
	return nil
}

// processEvent records the event id and applies it in one transaction, so
// a failed event is retried on redelivery
func (s *Service) processEvent(ctx context.Context, event *Event, logger *observability.Logger) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, event.ID, event.Type)
	if err != nil {
		return "", fmt.Errorf("failed to record event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return resultDuplicate, nil
	}

	var result string
	switch event.Type {
	case EventCheckoutCompleted:
		result, err = s.applyCheckout(ctx, tx, event, logger)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		result, err = s.applySubscription(ctx, tx, event, logger)
	case EventInvoicePaymentFailed:
		logger.Warn("Subscription payment failed")
		result = resultProcessed
	default:
		result = resultIgnored
	}
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return result, nil
}

func (s *Service) applyCheckout(ctx context.Context, tx *sql.Tx, event *Event, logger *observability.Logger) (string, error) {
	if event.Checkout == nil {
		return "", fmt.Errorf("event %s has no checkout session", event.ID)
	}
	user, err := s.userForCheckout(ctx, event.Checkout)
	if err != nil {
		return "", err
	}
	superseded, err := checkoutSuperseded(ctx, tx, event.Checkout, event.Created)
	if err != nil {
		return "", err
	}
	if superseded {
		logger.WithField("customer_id", event.Checkout.CustomerID).Info("Ignoring checkout superseded by a cancellation")
		return resultStale, nil
	}
	if err := s.grantFromCheckout(ctx, user, event.Checkout, "webhook"); err != nil {
		return "", err
	}
	return resultProcessed, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// checkoutSuperseded reports whether a cancellation makes the checkout's
// grant stale: either the checkout's own subscription is canceled, or the
// customer had a subscription canceled at or after at.
func checkoutSuperseded(ctx context.Context, q rowQuerier, sess *CheckoutSession, at time.Time) (bool, error) {
	if sess.SubscriptionID == "" && sess.CustomerID == "" {
		return false, nil
	}
	var superseded bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE status = $1
			  AND ((stripe_subscription_id = $2 AND $2 <> '')
			    OR (stripe_customer_id = $3 AND $3 <> '' AND last_event_at >= $4))
		)
	`, string(SubscriptionStatusCanceled), sess.SubscriptionID, sess.CustomerID, at).Scan(&superseded)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription state: %w", err)
	}
	return superseded, nil
}

// userForCheckout finds the buyer by client reference id, falling back to
// the customer email
func (s *Service) userForCheckout(ctx context.Context, sess *CheckoutSession) (*users.User, error) {
	if id, err := uuid.Parse(sess.ClientReferenceID); err == nil {
		user, err := s.users.GetByID(ctx, id)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, users.ErrNotFound) {
			return nil, err
		}
	}
	if sess.CustomerEmail == "" {
		return nil, fmt.Errorf("checkout session %s has no client reference or customer email", sess.ID)
	}
	return s.users.GetByEmail(ctx, sess.CustomerEmail)
}

func (s *Service) grantFromCheckout(ctx context.Context, user *users.User, sess *CheckoutSession, source string) error {
	if sess.CustomerID != "" && sess.CustomerID != user.StripeCustomerID {
		if err := s.users.SetStripeCustomerID(ctx, user.ID, sess.CustomerID); err != nil {
			return fmt.Errorf("failed to store customer id: %w", err)
		}
		user.StripeCustomerID = sess.CustomerID
	}
	return s.setPlan(ctx, user, true, source)
}

func (s *Service) applySubscription(ctx context.Context, tx *sql.Tx, event *Event, logger *observability.Logger) (string, error) {
	sub := event.Subscription
	if sub == nil {
		return "", fmt.Errorf("event %s has no subscription", event.ID)
	}

	user, err := s.userForSubscription(ctx, sub)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return "", err
	}
	if user != nil {
		sub.UserID = &user.ID
	}

	applied, err := upsertSubscription(ctx, tx, sub, event)
	if err != nil {
		return "", err
	}
	if !applied {
		logger.WithField("subscription_id", sub.ID).Info("Ignoring out-of-order subscription event")
		return resultStale, nil
	}
	if user == nil {
		logger.WithField("customer_id", sub.CustomerID).Warn("No user for subscription customer")
		return resultIgnored, nil
	}

	pro := sub.Status.GrantsPro() && event.Type != EventSubscriptionDeleted
	if err := s.setPlan(ctx, user, pro, "webhook"); err != nil {
		return "", err
	}
	return resultProcessed, nil
}

func (s *Service) userForSubscription(ctx context.Context, sub *Subscription) (*users.User, error) {
	user, err := s.users.GetByStripeCustomerID(ctx, sub.CustomerID)
	if err == nil || !errors.Is(err, users.ErrNotFound) || sub.UserID == nil {
		return user, err
	}
	return s.users.GetByID(ctx, *sub.UserID)
}

// upsertSubscription stores the subscription unless a newer event has
// already been applied. Event times have one second resolution, so on a tie
// only a cancellation replaces the row and a canceled row stays canceled.
// It reports whether the row changed.
func upsertSubscription(ctx context.Context, tx *sql.Tx, sub *Subscription, event *Event) (bool, error) {
	status := sub.Status
	if event.Type == EventSubscriptionDeleted {
		status = SubscriptionStatusCanceled
	}

	var userID uuid.NullUUID
	if sub.UserID != nil {
		userID = uuid.NullUUID{UUID: *sub.UserID, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (stripe_subscription_id, user_id, stripe_customer_id, status, price_id,
		                           current_period_end, cancel_at_period_end, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = COALESCE(EXCLUDED.user_id, subscriptions.user_id),
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = now()
		WHERE subscriptions.last_event_at < EXCLUDED.last_event_at
		   OR (subscriptions.last_event_at = EXCLUDED.last_event_at
		       AND EXCLUDED.status = 'canceled'
		       AND subscriptions.status <> 'canceled')
	`, sub.ID, userID, sub.CustomerID, string(status), sub.PriceID,
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, event.Created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// setPlan always writes: user may come from a cache that another instance
// has not invalidated yet.
func (s *Service) setPlan(ctx context.Context, user *users.User, pro bool, source string) error {
	if err := s.users.SetPlan(ctx, user.ID, pro); err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if user.IsPro == pro {
		return nil
	}
	user.IsPro = pro
	s.metrics.PlanTransition(string(plans.TierFor(pro)), source)
	s.logger.WithFields(map[string]interface{}{
		"user_id": user.ID.String(),
		"plan":    string(plans.TierFor(pro)),
		"source":  source,
	}).Info("Plan changed")
	return nil
}
