// Package billing keeps each user's plan in step with their Stripe
// subscription.
//
// Upgrades start with a hosted checkout session. The plan flips to pro when
// the browser returns from a paid checkout, and again (idempotently) when
// the checkout.session.completed webhook arrives. Later subscription
// events downgrade or restore the plan.
//
// Webhooks are verified against the endpoint secret and recorded in
// processed_webhook_events so redeliveries have no effect. Subscription
// rows carry the timestamp of the last applied event and older events are
// dropped, so out-of-order delivery cannot resurrect a canceled plan.
//
//	svc := billing.NewService(db, billing.NewStripeGateway(key, whsec), repo, cfg, metrics, logger)
//	sess, err := svc.StartCheckout(ctx, user, "")
//	http.Redirect(w, r, sess.URL, http.StatusSeeOther)
package billing
