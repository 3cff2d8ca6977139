// Package middleware provides HTTP middleware for authentication, plan
// enforcement and rate limiting.
//
// Ordering matters. AuthMiddleware must wrap QuotaMiddleware, which reads
// the caller from the auth context:
//
//	api.Use(authMiddleware.Handler)
//	api.Handle("/invoices", quota.EnforceInvoiceQuota(createHandler)).Methods("POST")
//	api.Handle("/profile/logo", quota.RequireFeature(plans.FeatureLogoUpload)(uploadHandler))
//
// Rate limiting is keyed by client IP. The in-memory RateLimiter is a token
// bucket; DistributedRateLimiter shares a fixed window across instances
// through Redis. Both satisfy Limiter.
package middleware
