package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/invoice"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/storage"
	"github.com/platinummonkey/invoicer/pkg/users"
)

// APIPrefix is the path prefix of every API route
const APIPrefix = "/api/v1"

// Config holds the HTTP settings of the API
type Config struct {
	// AppURL is the public origin of the web app
	AppURL         string
	AllowedOrigins []string
	MaxBodyBytes   int64
	// SecureCookies marks the login state cookie Secure
	SecureCookies bool
	// Tracing wraps the handler in an otelhttp server span
	Tracing bool
}

// Dependencies are the services behind the API. SSO, Logos and Limiter may
// be nil, which disables single sign-on, logo upload and rate limiting.
type Dependencies struct {
	Users     users.Repository
	Invoices  invoice.Service
	Documents Documents
	Billing   Billing
	Logos     storage.ObjectStore
	Passwords *auth.PasswordAuthenticator
	Tokens    *auth.JWTManager
	SSO       SingleSignOn
	Enforcer  *plans.Enforcer
	Limiter   middleware.Limiter
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// Server represents our API server
type Server struct {
	cfg       Config
	users     users.Repository
	invoices  invoice.Service
	documents Documents
	billing   Billing
	logos     storage.ObjectStore
	passwords *auth.PasswordAuthenticator
	tokens    *auth.JWTManager
	sso       SingleSignOn
	metrics   *observability.Metrics
	logger    *observability.Logger

	authRequired *middleware.AuthMiddleware
	authOptional *middleware.AuthMiddleware
	quota        *middleware.QuotaMiddleware
	rateLimit    *middleware.RateLimitMiddleware

	router  *mux.Router
	handler http.Handler
	now     func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Enforcer == nil {
		deps.Enforcer = plans.NewEnforcer(nil, deps.Metrics)
	}
	if deps.Passwords == nil && deps.Users != nil {
		deps.Passwords = auth.NewPasswordAuthenticator(deps.Users)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}

	s := &Server{
		cfg:          cfg,
		users:        deps.Users,
		invoices:     deps.Invoices,
		documents:    deps.Documents,
		billing:      deps.Billing,
		logos:        deps.Logos,
		passwords:    deps.Passwords,
		tokens:       deps.Tokens,
		sso:          deps.SSO,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		authRequired: middleware.NewAuthMiddleware(deps.Tokens, false),
		authOptional: middleware.NewAuthMiddleware(deps.Tokens, true),
		quota:        middleware.NewQuotaMiddleware(deps.Users, deps.Enforcer),
		router:       mux.NewRouter(),
		now:          time.Now,
	}
	if deps.Limiter != nil {
		s.rateLimit = middleware.NewRateLimitMiddleware(deps.Limiter)
	}

	s.setupRoutes()
	s.handler = s.buildHandler()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	api := s.router.PathPrefix(APIPrefix).Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/oidc/login", s.oidcLogin).Methods(http.MethodGet)
	api.HandleFunc("/auth/oidc/callback", s.oidcCallback).Methods(http.MethodGet)
	api.Handle("/invoices/preview", s.authOptional.Handler(http.HandlerFunc(s.previewInvoice))).Methods(http.MethodPost)
	api.HandleFunc("/billing/success", s.checkoutSuccess).Methods(http.MethodGet)
	api.HandleFunc("/billing/webhook", s.billingWebhook).Methods(http.MethodPost)

	// Everything below needs a session and a loaded account
	authed := api.NewRoute().Subrouter()
	authed.Use(s.authRequired.Handler, s.quota.LoadUser)

	authed.HandleFunc("/auth/me", s.me).Methods(http.MethodGet)
	authed.HandleFunc("/profile", s.getProfile).Methods(http.MethodGet)
	authed.HandleFunc("/profile", s.updateProfile).Methods(http.MethodPut)
	authed.Handle("/profile/logo", s.quota.RequireFeature(plans.FeatureLogoUpload)(http.HandlerFunc(s.uploadLogo))).Methods(http.MethodPost)
	authed.HandleFunc("/usage", s.usage).Methods(http.MethodGet)

	authed.Handle("/invoices", s.quota.EnforceInvoiceQuota(http.HandlerFunc(s.createInvoice))).Methods(http.MethodPost)
	authed.HandleFunc("/invoices", s.listInvoices).Methods(http.MethodGet)
	authed.HandleFunc("/invoices/{id}", s.getInvoice).Methods(http.MethodGet)
	authed.HandleFunc("/invoices/{id}", s.deleteInvoice).Methods(http.MethodDelete)
	authed.HandleFunc("/invoices/{id}/paid", s.markPaid).Methods(http.MethodPost)
	authed.HandleFunc("/invoices/{id}/pdf", s.invoicePDF).Methods(http.MethodGet)
	authed.HandleFunc("/invoices/{id}/receipt", s.receiptPDF).Methods(http.MethodGet)
	authed.HandleFunc("/invoices/{id}/share", s.shareInvoice).Methods(http.MethodPost)

	authed.HandleFunc("/billing/customer", s.createCustomer).Methods(http.MethodPost)
	authed.HandleFunc("/billing/checkout", s.createCheckout).Methods(http.MethodPost)
	authed.HandleFunc("/billing/cancel", s.cancelSubscription).Methods(http.MethodPost)
	authed.HandleFunc("/billing/portal", s.createPortal).Methods(http.MethodPost)
	authed.HandleFunc("/billing/subscription", s.subscription).Methods(http.MethodGet)
}

// buildHandler wraps the router in the cross-cutting middleware, first one
// outermost
func (s *Server) buildHandler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(s.cfg.AllowedOrigins),
		httputil.MaxBytesMiddleware(s.cfg.MaxBodyBytes),
	}
	if s.rateLimit != nil {
		chain = append(chain, s.rateLimit.Handler)
	}

	h := httputil.Chain(chain...)(s.router)
	if s.cfg.Tracing {
		h = otelhttp.NewHandler(h, "invoicer-api")
	}
	return h
}

// Router exposes the route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
