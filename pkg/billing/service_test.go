package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/users"
)

// mockGateway is a Gateway whose behaviour is set per test
type mockGateway struct {
	createCustomerFunc func(ctx context.Context, email, userID string) (string, error)
	createCheckoutFunc func(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	getCheckoutFunc    func(ctx context.Context, id string) (*CheckoutSession, error)
	cancelFunc         func(ctx context.Context, customerID string) error
	portalFunc         func(ctx context.Context, customerID, returnURL string) (string, error)
	constructFunc      func(payload []byte, header string) (*Event, error)
}

func (m *mockGateway) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	return m.createCustomerFunc(ctx, email, userID)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return m.createCheckoutFunc(ctx, req)
}

func (m *mockGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	return m.getCheckoutFunc(ctx, id)
}

func (m *mockGateway) CancelActiveSubscription(ctx context.Context, customerID string) error {
	return m.cancelFunc(ctx, customerID)
}

func (m *mockGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return m.portalFunc(ctx, customerID, returnURL)
}

func (m *mockGateway) ConstructEvent(payload []byte, header string) (*Event, error) {
	return m.constructFunc(payload, header)
}

func eventGateway(ev *Event) *mockGateway {
	return &mockGateway{constructFunc: func([]byte, string) (*Event, error) { return ev, nil }}
}

// memUsers is an in-memory users.Repository
type memUsers struct {
	users.Repository
	byID     map[uuid.UUID]*users.User
	setPlans int
	failPlan bool
}

func newMemUsers(us ...*users.User) *memUsers {
	m := &memUsers{byID: map[uuid.UUID]*users.User{}}
	for _, u := range us {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memUsers) find(match func(*users.User) bool) (*users.User, error) {
	for _, u := range m.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, users.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.Email == email })
}

func (m *memUsers) GetByStripeCustomerID(_ context.Context, id string) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.StripeCustomerID == id })
}

func (m *memUsers) SetPlan(_ context.Context, id uuid.UUID, isPro bool) error {
	if m.failPlan {
		return errors.New("db down")
	}
	m.setPlans++
	m.byID[id].IsPro = isPro
	return nil
}

func (m *memUsers) SetStripeCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	m.byID[id].StripeCustomerID = customerID
	return nil
}

var testConfig = ServiceConfig{AppURL: "https://app.example.com", ProPriceID: "price_pro"}

func expectSuperseded(mock sqlmock.Sqlmock, superseded bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(superseded))
}

func newTestService(t *testing.T, gw Gateway, repo users.Repository) (*Service, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, gw, repo, testConfig, nil, nil), mock
}

func TestService_StartCheckoutCreatesCustomerOnce(t *testing.T) {
	user := &users.User{ID: uuid.New(), Email: "owner@example.com"}
	repo := newMemUsers(user)
	created := 0
	var got CheckoutRequest
	gw := &mockGateway{
		createCustomerFunc: func(_ context.Context, email, userID string) (string, error) {
			created++
			assert.Equal(t, "owner@example.com", email)
			assert.Equal(t, user.ID.String(), userID)
			return "cus_1", nil
		},
		createCheckoutFunc: func(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
			got = req
			return &CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, nil
		},
	}
	svc, _ := newTestService(t, gw, repo)

	caller := *user
	sess, err := svc.StartCheckout(context.Background(), &caller, "")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/cs_1", sess.URL)
	assert.Equal(t, "cus_1", got.CustomerID)
	assert.Equal(t, "price_pro", got.PriceID)
	assert.Equal(t, "https://app.example.com/api/v1/billing/success?session_id={CHECKOUT_SESSION_ID}", got.SuccessURL)
	assert.Equal(t, "https://app.example.com/dashboard?canceled=true", got.CancelURL)
	assert.Equal(t, "cus_1", repo.byID[user.ID].StripeCustomerID)

	_, err = svc.StartCheckout(context.Background(), &caller, "price_other")
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, "price_other", got.PriceID)
}

func TestService_Disabled(t *testing.T) {
	svc, _ := newTestService(t, nil, newMemUsers())
	user := &users.User{ID: uuid.New()}

	assert.False(t, svc.Enabled())
	_, err := svc.StartCheckout(context.Background(), user, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, svc.HandleWebhook(context.Background(), nil, ""), ErrWebhookNotConfigured)
}

func TestService_ConfirmCheckout(t *testing.T) {
	paid := func(id uuid.UUID) *CheckoutSession {
		return &CheckoutSession{ID: "cs_1", PaymentStatus: "paid", ClientReferenceID: id.String(), CustomerID: "cus_9"}
	}

	tests := []struct {
		name       string
		session    func(id uuid.UUID) (*CheckoutSession, error)
		failPlan   bool
		checked    bool
		superseded bool
		want       string
		wantPro    bool
	}{
		{
			name:    "paid",
			session: func(id uuid.UUID) (*CheckoutSession, error) { return paid(id), nil },
			checked: true,
			want:    "https://app.example.com/dashboard?success=true",
			wantPro: true,
		},
		{
			name: "subscription already canceled",
			session: func(id uuid.UUID) (*CheckoutSession, error) {
				s := paid(id)
				s.SubscriptionID = "sub_1"
				return s, nil
			},
			checked:    true,
			superseded: true,
			want:       "https://app.example.com/dashboard?error=payment_incomplete",
		},
		{
			name: "unpaid",
			session: func(id uuid.UUID) (*CheckoutSession, error) {
				s := paid(id)
				s.PaymentStatus = "unpaid"
				return s, nil
			},
			want: "https://app.example.com/dashboard?error=payment_incomplete",
		},
		{
			name:     "update failure",
			session:  func(id uuid.UUID) (*CheckoutSession, error) { return paid(id), nil },
			failPlan: true,
			checked:  true,
			want:     "https://app.example.com/dashboard?error=update_failed",
		},
		{
			name:    "provider failure",
			session: func(uuid.UUID) (*CheckoutSession, error) { return nil, errors.New("boom") },
			want:    "https://app.example.com/dashboard?error=unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &users.User{ID: uuid.New(), Email: "owner@example.com"}
			repo := newMemUsers(user)
			repo.failPlan = tt.failPlan
			gw := &mockGateway{getCheckoutFunc: func(context.Context, string) (*CheckoutSession, error) {
				return tt.session(user.ID)
			}}
			svc, mock := newTestService(t, gw, repo)
			if tt.checked {
				expectSuperseded(mock, tt.superseded)
			}

			assert.Equal(t, tt.want, svc.ConfirmCheckout(context.Background(), "cs_1"))
			assert.Equal(t, tt.wantPro, repo.byID[user.ID].IsPro)
			if tt.wantPro {
				assert.Equal(t, "cus_9", repo.byID[user.ID].StripeCustomerID)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestService_CancelSubscription(t *testing.T) {
	user := &users.User{ID: uuid.New(), IsPro: true, StripeCustomerID: "cus_1"}
	repo := newMemUsers(user)
	gw := &mockGateway{cancelFunc: func(_ context.Context, customerID string) error {
		assert.Equal(t, "cus_1", customerID)
		return nil
	}}
	svc, _ := newTestService(t, gw, repo)

	caller := *user
	require.NoError(t, svc.CancelSubscription(context.Background(), &caller))
	assert.False(t, repo.byID[user.ID].IsPro)
}

func TestService_CancelWithoutSubscription(t *testing.T) {
	gw := &mockGateway{cancelFunc: func(context.Context, string) error { return ErrNoActiveSubscription }}
	svc, _ := newTestService(t, gw, newMemUsers())

	err := svc.CancelSubscription(context.Background(), &users.User{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	err = svc.CancelSubscription(context.Background(), &users.User{ID: uuid.New(), StripeCustomerID: "cus_2"})
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestService_PortalURL(t *testing.T) {
	gw := &mockGateway{portalFunc: func(_ context.Context, customerID, returnURL string) (string, error) {
		assert.Equal(t, "cus_1", customerID)
		assert.Equal(t, "https://app.example.com/dashboard", returnURL)
		return "https://billing.stripe.com/p/1", nil
	}}
	svc, _ := newTestService(t, gw, newMemUsers())

	u, err := svc.PortalURL(context.Background(), &users.User{ID: uuid.New(), StripeCustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/1", u)
}

func TestService_Status(t *testing.T) {
	user := &users.User{ID: uuid.New(), IsPro: true, StripeCustomerID: "cus_1"}
	svc, mock := newTestService(t, &mockGateway{}, newMemUsers(user))

	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM subscriptions").
		WithArgs(user.ID, "cus_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"stripe_subscription_id", "user_id", "stripe_customer_id", "status", "price_id",
			"current_period_end", "cancel_at_period_end", "last_event_at",
		}).AddRow("sub_1", user.ID.String(), "cus_1", "active", "price_pro", end, false, end.AddDate(0, -1, 0)))

	status, err := svc.Status(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "pro", status.Plan)
	assert.True(t, status.HasCustomer)
	require.NotNil(t, status.Subscription)
	assert.Equal(t, SubscriptionStatusActive, status.Subscription.Status)
	assert.Equal(t, end, *status.Subscription.CurrentPeriodEnd)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WebhookCheckoutCompleted(t *testing.T) {
	user := &users.User{ID: uuid.New(), Email: "owner@example.com"}
	repo := newMemUsers(user)
	ev := &Event{ID: "evt_1", Type: EventCheckoutCompleted, Created: time.Now(), Checkout: &CheckoutSession{
		ID: "cs_1", CustomerID: "cus_1", CustomerEmail: "owner@example.com",
	}}
	svc, mock := newTestService(t, eventGateway(ev), repo)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhook_events").
		WithArgs("evt_1", EventCheckoutCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectSuperseded(mock, false)
	mock.ExpectCommit()

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	assert.True(t, repo.byID[user.ID].IsPro)
	assert.Equal(t, "cus_1", repo.byID[user.ID].StripeCustomerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WebhookCheckoutAfterCancellationIsStale(t *testing.T) {
	user := &users.User{ID: uuid.New(), Email: "owner@example.com", StripeCustomerID: "cus_1"}
	repo := newMemUsers(user)
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	ev := &Event{ID: "evt_late", Type: EventCheckoutCompleted, Created: created, Checkout: &CheckoutSession{
		ID: "cs_1", CustomerID: "cus_1", SubscriptionID: "sub_1", ClientReferenceID: user.ID.String(),
	}}
	svc, mock := newTestService(t, eventGateway(ev), repo)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("canceled", "sub_1", "cus_1", created).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	assert.False(t, repo.byID[user.ID].IsPro)
	assert.Zero(t, repo.setPlans)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WebhookCheckoutWithoutUserFails(t *testing.T) {
	ev := &Event{ID: "evt_2", Type: EventCheckoutCompleted, Checkout: &CheckoutSession{ID: "cs_2"}}
	svc, mock := newTestService(t, eventGateway(ev), newMemUsers())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	assert.Error(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WebhookDuplicateHasNoEffect(t *testing.T) {
	user := &users.User{ID: uuid.New(), Email: "owner@example.com"}
	repo := newMemUsers(user)
	ev := &Event{ID: "evt_1", Type: EventCheckoutCompleted, Checkout: &CheckoutSession{ClientReferenceID: user.ID.String()}}
	svc, mock := newTestService(t, eventGateway(ev), repo)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	assert.False(t, repo.byID[user.ID].IsPro)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WebhookSubscriptionEntitlement(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		status    SubscriptionStatus
		startPro  bool
		wantPro   bool
		wantState string
	}{
		{"active grants pro", EventSubscriptionUpdated, SubscriptionStatusActive, false, true, "active"},
		{"trialing grants pro", EventSubscriptionCreated, SubscriptionStatusTrialing, false, true, "trialing"},
		{"past due revokes", EventSubscriptionUpdated, SubscriptionStatusPastDue, true, false, "past_due"},
		{"deletion revokes", EventSubscriptionDeleted, SubscriptionStatusActive, true, false, "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &users.User{ID: uuid.New(), IsPro: tt.startPro, StripeCustomerID: "cus_1"}
			repo := newMemUsers(user)
			created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
			ev := &Event{ID: "evt_s", Type: tt.eventType, Created: created, Subscription: &Subscription{
				ID: "sub_1", CustomerID: "cus_1", Status: tt.status, PriceID: "price_pro",
			}}
			svc, mock := newTestService(t, eventGateway(ev), repo)

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec("INSERT INTO subscriptions").
				WithArgs("sub_1", sqlmock.AnyArg(), "cus_1", tt.wantState, "price_pro", nil, false, created).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
			assert.Equal(t, tt.wantPro, repo.byID[user.ID].IsPro)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestService_WebhookStaleSubscriptionEventIgnored(t *testing.T) {
	user := &users.User{ID: uuid.New(), IsPro: false, StripeCustomerID: "cus_1"}
	repo := newMemUsers(user)
	ev := &Event{ID: "evt_old", Type: EventSubscriptionUpdated, Created: time.Now().Add(-time.Hour), Subscription: &Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: SubscriptionStatusActive,
	}}
	svc, mock := newTestService(t, eventGateway(ev), repo)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscriptions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	assert.False(t, repo.byID[user.ID].IsPro)
	assert.Zero(t, repo.setPlans)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_SubscriptionUpsertOnlyMovesForward(t *testing.T) {
	user := &users.User{ID: uuid.New(), StripeCustomerID: "cus_1"}
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	ev := &Event{ID: "evt_s", Type: EventSubscriptionUpdated, Created: created, Subscription: &Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: SubscriptionStatusActive,
	}}
	svc, mock := newTestService(t, eventGateway(ev), newMemUsers(user))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`WHERE subscriptions\.last_event_at < EXCLUDED\.last_event_at\s+OR \(subscriptions\.last_event_at = EXCLUDED\.last_event_at\s+AND EXCLUDED\.status = 'canceled'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_SetPlanWritesThroughStaleUser(t *testing.T) {
	stored := &users.User{ID: uuid.New(), IsPro: true, StripeCustomerID: "cus_1"}
	repo := newMemUsers(stored)
	svc, _ := newTestService(t, &mockGateway{}, repo)

	// a cached copy that missed the upgrade on another instance
	cached := *stored
	cached.IsPro = false
	require.NoError(t, svc.setPlan(context.Background(), &cached, false, "webhook"))
	assert.Equal(t, 1, repo.setPlans)
	assert.False(t, repo.byID[stored.ID].IsPro)
}

func TestService_WebhookIgnoresOtherEvents(t *testing.T) {
	for _, typ := range []string{EventInvoicePaymentFailed, "customer.created"} {
		ev := &Event{ID: "evt_" + typ, Type: typ}
		svc, mock := newTestService(t, eventGateway(ev), newMemUsers())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO processed_webhook_events").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
		require.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestService_WebhookBadSignature(t *testing.T) {
	gw := &mockGateway{constructFunc: func([]byte, string) (*Event, error) {
		return nil, ErrInvalidSignature
	}}
	svc, _ := newTestService(t, gw, newMemUsers())

	err := svc.HandleWebhook(context.Background(), []byte("{}"), "bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
