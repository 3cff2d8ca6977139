// Package api provides the HTTP REST API of the invoicer backend.
//
// # Overview
//
// The API lets a business owner register, maintain a business profile,
// issue invoices, download them as PDF, share them by link and manage a
// Pro subscription. Every route lives under /api/v1 and speaks JSON,
// except the PDF downloads and the checkout redirect.
//
// # Architecture
//
// Server is built on gorilla/mux. Routes fall into two groups:
//
//   - Public: registration, login, single sign-on, guest previews, the
//     checkout success redirect and the billing webhook
//   - Authenticated: everything else, behind a Bearer JWT and an account
//     lookup that puts the caller's user record in the request context
//
// Plan limits are applied twice. The quota middleware rejects a free user
// at the monthly limit before any work is done, and invoice.Service checks
// again under a row lock so concurrent requests cannot exceed it.
//
// # Middleware
//
// Requests pass through, outermost first: request ID, request logging,
// panic recovery, CORS, body size limit and per-IP rate limiting. Route
// metrics are recorded inside the router so they are labeled with the
// route template. When tracing is enabled the whole handler is wrapped in
// an otelhttp span.
//
// # Errors
//
// Service errors map onto status codes in one place:
//
//	400  invalid JSON or invoice validation ({"error", "details"})
//	401  missing or invalid session
//	403  free plan limit reached, or a Pro-only feature
//	404  unknown invoice, or no active subscription to cancel
//	409  duplicate email, or a receipt for an unpaid invoice
//	429  rate limit exceeded
//	500  anything else, logged with the request ID
//
// # Usage
//
//	srv := api.NewServer(api.Config{AppURL: cfg.Server.AppURL}, api.Dependencies{
//		Users:     userRepo,
//		Invoices:  invoiceService,
//		Documents: pdfService,
//		Billing:   billingService,
//		Tokens:    jwtManager,
//	})
//	http.ListenAndServe(":8080", srv)
package api
