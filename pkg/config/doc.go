// Package config loads invoicer configuration from INVOICER_* environment
// variables and validates it before any connection is opened.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Required: INVOICER_POSTGRES_URL and INVOICER_JWT_SECRET (32+ characters).
// Billing is enabled by INVOICER_STRIPE_SECRET_KEY, which then also requires
// INVOICER_STRIPE_PRO_PRICE_ID. Single sign-on is enabled by
// INVOICER_OIDC_ISSUER_URL.
package config
