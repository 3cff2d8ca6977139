package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/billing"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/pdf"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/users"
)

const testSecret = "test-secret-test-secret-test-secret"

// memUsers is an in-memory users.Repository
type memUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*users.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[uuid.UUID]*users.User)}
}

func (m *memUsers) find(match func(*users.User) bool) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, users.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return users.ErrEmailTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.Email == email })
}

func (m *memUsers) GetByOIDCSubject(_ context.Context, subject string) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.OIDCSubject != "" && u.OIDCSubject == subject })
}

func (m *memUsers) GetByStripeCustomerID(_ context.Context, customerID string) (*users.User, error) {
	return m.find(func(u *users.User) bool { return u.StripeCustomerID != "" && u.StripeCustomerID == customerID })
}

func (m *memUsers) update(id uuid.UUID, fn func(*users.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memUsers) UpdateProfile(ctx context.Context, id uuid.UUID, p users.ProfileUpdate) (*users.User, error) {
	err := m.update(id, func(u *users.User) {
		if p.CompanyName != nil {
			u.CompanyName = *p.CompanyName
		}
		if p.BusinessName != nil {
			u.BusinessName = *p.BusinessName
		}
		if p.VATRegistered != nil {
			u.VATRegistered = *p.VATRegistered
		}
		if p.VATRate != nil {
			u.VATRate = *p.VATRate
		}
		if p.DefaultCurrency != nil {
			u.DefaultCurrency = *p.DefaultCurrency
		}
		if p.DefaultPaymentTerms != nil {
			u.DefaultPaymentTerms = *p.DefaultPaymentTerms
		}
	})
	if err != nil {
		return nil, err
	}
	return m.GetByID(ctx, id)
}

func (m *memUsers) SetPlan(_ context.Context, id uuid.UUID, isPro bool) error {
	return m.update(id, func(u *users.User) { u.IsPro = isPro })
}

func (m *memUsers) SetStripeCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	return m.update(id, func(u *users.User) { u.StripeCustomerID = customerID })
}

func (m *memUsers) SetLogoKey(_ context.Context, id uuid.UUID, key string) error {
	return m.update(id, func(u *users.User) { u.LogoKey = key })
}

func (m *memUsers) ResetMonthlyUsage(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// mockInvoices implements invoice.Service for testing
type mockInvoices struct {
	createFunc   func(ctx context.Context, userID uuid.UUID, draft invoice.Draft, key string) (*invoice.Invoice, bool, error)
	getFunc      func(ctx context.Context, userID, id uuid.UUID) (*invoice.Invoice, error)
	listFunc     func(ctx context.Context, userID uuid.UUID, filter invoice.Filter) (*invoice.Page, error)
	deleteFunc   func(ctx context.Context, userID, id uuid.UUID) error
	markPaidFunc func(ctx context.Context, userID, id uuid.UUID) (*invoice.Invoice, error)
	usageFunc    func(ctx context.Context, userID uuid.UUID) (*plans.Usage, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockInvoices) Create(ctx context.Context, userID uuid.UUID, draft invoice.Draft, key string) (*invoice.Invoice, bool, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, userID, draft, key)
	}
	return nil, false, errNotImplemented
}

func (m *mockInvoices) Get(ctx context.Context, userID, id uuid.UUID) (*invoice.Invoice, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID, id)
	}
	return nil, errNotImplemented
}

func (m *mockInvoices) List(ctx context.Context, userID uuid.UUID, filter invoice.Filter) (*invoice.Page, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID, filter)
	}
	return nil, errNotImplemented
}

func (m *mockInvoices) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, userID, id)
	}
	return errNotImplemented
}

func (m *mockInvoices) MarkPaid(ctx context.Context, userID, id uuid.UUID) (*invoice.Invoice, error) {
	if m.markPaidFunc != nil {
		return m.markPaidFunc(ctx, userID, id)
	}
	return nil, errNotImplemented
}

func (m *mockInvoices) SetPDFKey(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (m *mockInvoices) Usage(ctx context.Context, userID uuid.UUID) (*plans.Usage, error) {
	if m.usageFunc != nil {
		return m.usageFunc(ctx, userID)
	}
	return nil, errNotImplemented
}

// mockDocuments implements Documents for testing
type mockDocuments struct {
	invoiceFunc func(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error)
	receiptFunc func(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error)
	previewFunc func(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error)
	shareFunc   func(ctx context.Context, inv *invoice.Invoice) (*pdf.Share, error)
}

func (m *mockDocuments) Invoice(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error) {
	if m.invoiceFunc != nil {
		return m.invoiceFunc(ctx, inv)
	}
	return nil, errNotImplemented
}

func (m *mockDocuments) Receipt(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error) {
	if m.receiptFunc != nil {
		return m.receiptFunc(ctx, inv)
	}
	return nil, errNotImplemented
}

func (m *mockDocuments) Preview(ctx context.Context, inv *invoice.Invoice) (*pdf.Document, error) {
	if m.previewFunc != nil {
		return m.previewFunc(ctx, inv)
	}
	return nil, errNotImplemented
}

func (m *mockDocuments) Share(ctx context.Context, inv *invoice.Invoice) (*pdf.Share, error) {
	if m.shareFunc != nil {
		return m.shareFunc(ctx, inv)
	}
	return nil, errNotImplemented
}

// mockBilling implements Billing for testing
type mockBilling struct {
	ensureCustomerFunc func(ctx context.Context, user *users.User) (string, error)
	startCheckoutFunc  func(ctx context.Context, user *users.User, priceID string) (*billing.CheckoutSession, error)
	confirmFunc        func(ctx context.Context, sessionID string) string
	cancelFunc         func(ctx context.Context, user *users.User) error
	portalFunc         func(ctx context.Context, user *users.User) (string, error)
	statusFunc         func(ctx context.Context, user *users.User) (*billing.Status, error)
	webhookFunc        func(ctx context.Context, payload []byte, sig string) error
}

func (m *mockBilling) Enabled() bool { return true }

func (m *mockBilling) EnsureCustomer(ctx context.Context, user *users.User) (string, error) {
	if m.ensureCustomerFunc != nil {
		return m.ensureCustomerFunc(ctx, user)
	}
	return "", errNotImplemented
}

func (m *mockBilling) StartCheckout(ctx context.Context, user *users.User, priceID string) (*billing.CheckoutSession, error) {
	if m.startCheckoutFunc != nil {
		return m.startCheckoutFunc(ctx, user, priceID)
	}
	return nil, errNotImplemented
}

func (m *mockBilling) ConfirmCheckout(ctx context.Context, sessionID string) string {
	if m.confirmFunc != nil {
		return m.confirmFunc(ctx, sessionID)
	}
	return "/dashboard?error=unknown"
}

func (m *mockBilling) CancelSubscription(ctx context.Context, user *users.User) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, user)
	}
	return errNotImplemented
}

func (m *mockBilling) PortalURL(ctx context.Context, user *users.User) (string, error) {
	if m.portalFunc != nil {
		return m.portalFunc(ctx, user)
	}
	return "", errNotImplemented
}

func (m *mockBilling) Status(ctx context.Context, user *users.User) (*billing.Status, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, user)
	}
	return nil, errNotImplemented
}

func (m *mockBilling) HandleWebhook(ctx context.Context, payload []byte, sig string) error {
	if m.webhookFunc != nil {
		return m.webhookFunc(ctx, payload, sig)
	}
	return errNotImplemented
}

// mockSSO implements SingleSignOn for testing
type mockSSO struct {
	exchangeFunc func(ctx context.Context, code string) (*auth.Identity, error)
}

func (m *mockSSO) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockSSO) Exchange(ctx context.Context, code string) (*auth.Identity, error) {
	if m.exchangeFunc != nil {
		return m.exchangeFunc(ctx, code)
	}
	return nil, errNotImplemented
}

// testEnv bundles a server with its fakes
type testEnv struct {
	t         *testing.T
	server    *Server
	users     *memUsers
	invoices  *mockInvoices
	documents *mockDocuments
	billing   *mockBilling
	tokens    *auth.JWTManager
}

func newTestEnv(t *testing.T, customize ...func(*Dependencies)) *testEnv {
	t.Helper()
	env := &testEnv{
		t:         t,
		users:     newMemUsers(),
		invoices:  &mockInvoices{},
		documents: &mockDocuments{},
		billing:   &mockBilling{},
		tokens:    auth.NewJWTManager(testSecret, time.Hour),
	}
	deps := Dependencies{
		Users:     env.users,
		Invoices:  env.invoices,
		Documents: env.documents,
		Billing:   env.billing,
		Tokens:    env.tokens,
	}
	for _, fn := range customize {
		fn(&deps)
	}
	env.server = NewServer(Config{AppURL: "https://app.example.com", AllowedOrigins: []string{"https://app.example.com"}}, deps)
	return env
}

// addUser stores a user and returns it with a session token
func (e *testEnv) addUser(u *users.User) (*users.User, string) {
	e.t.Helper()
	if u.Email == "" {
		u.Email = uuid.NewString() + "@example.com"
	}
	require.NoError(e.t, e.users.Create(context.Background(), u))
	token, err := e.tokens.Generate(u)
	require.NoError(e.t, err)
	return u, token
}

func (e *testEnv) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &body)
	return body.Error
}

func TestRoutes(t *testing.T) {
	s := NewServer(Config{}, Dependencies{})

	tests := []struct {
		method   string
		path     string
		template string
	}{
		{http.MethodPost, "/api/v1/auth/register", "/api/v1/auth/register"},
		{http.MethodPost, "/api/v1/auth/login", "/api/v1/auth/login"},
		{http.MethodGet, "/api/v1/auth/oidc/login", "/api/v1/auth/oidc/login"},
		{http.MethodGet, "/api/v1/auth/oidc/callback", "/api/v1/auth/oidc/callback"},
		{http.MethodGet, "/api/v1/auth/me", "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/profile", "/api/v1/profile"},
		{http.MethodPut, "/api/v1/profile", "/api/v1/profile"},
		{http.MethodPost, "/api/v1/profile/logo", "/api/v1/profile/logo"},
		{http.MethodGet, "/api/v1/usage", "/api/v1/usage"},
		{http.MethodPost, "/api/v1/invoices/preview", "/api/v1/invoices/preview"},
		{http.MethodPost, "/api/v1/invoices", "/api/v1/invoices"},
		{http.MethodGet, "/api/v1/invoices", "/api/v1/invoices"},
		{http.MethodGet, "/api/v1/invoices/" + uuid.NewString(), "/api/v1/invoices/{id}"},
		{http.MethodDelete, "/api/v1/invoices/" + uuid.NewString(), "/api/v1/invoices/{id}"},
		{http.MethodPost, "/api/v1/invoices/" + uuid.NewString() + "/paid", "/api/v1/invoices/{id}/paid"},
		{http.MethodGet, "/api/v1/invoices/" + uuid.NewString() + "/pdf", "/api/v1/invoices/{id}/pdf"},
		{http.MethodGet, "/api/v1/invoices/" + uuid.NewString() + "/receipt", "/api/v1/invoices/{id}/receipt"},
		{http.MethodPost, "/api/v1/invoices/" + uuid.NewString() + "/share", "/api/v1/invoices/{id}/share"},
		{http.MethodPost, "/api/v1/billing/customer", "/api/v1/billing/customer"},
		{http.MethodPost, "/api/v1/billing/checkout", "/api/v1/billing/checkout"},
		{http.MethodPost, "/api/v1/billing/cancel", "/api/v1/billing/cancel"},
		{http.MethodPost, "/api/v1/billing/portal", "/api/v1/billing/portal"},
		{http.MethodGet, "/api/v1/billing/subscription", "/api/v1/billing/subscription"},
		{http.MethodGet, "/api/v1/billing/success", "/api/v1/billing/success"},
		{http.MethodPost, "/api/v1/billing/webhook", "/api/v1/billing/webhook"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.template, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			var match mux.RouteMatch
			require.True(t, s.Router().Match(req, &match))
			require.NoError(t, match.MatchErr)
			tpl, err := match.Route.GetPathTemplate()
			require.NoError(t, err)
			assert.Equal(t, tt.template, tpl)
		})
	}

	var match mux.RouteMatch
	assert.False(t, s.Router().Match(httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil), &match))
}

func TestServer_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/profile", "/api/v1/usage", "/api/v1/invoices", "/api/v1/billing/subscription"} {
		rec := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := env.do(http.MethodGet, "/api/v1/usage", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_DeletedAccount(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.tokens.Generate(&users.User{ID: uuid.New(), Email: "gone@example.com"})
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/v1/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_RequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/invoices", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	env := newTestEnv(t, func(d *Dependencies) { d.Limiter = limiter })

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/usage", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/usage", "", nil).Code)

	rec := env.do(http.MethodGet, "/api/v1/usage", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServer_RecoversPanics(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.addUser(&users.User{})
	env.invoices.usageFunc = func(context.Context, uuid.UUID) (*plans.Usage, error) {
		panic("boom")
	}

	rec := env.do(http.MethodGet, "/api/v1/usage", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
