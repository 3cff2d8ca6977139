// Package cli implements invoicer-cli, the operator tool for the invoice
// backend.
//
// # Commands
//
// migrate: apply pending database migrations
//
//	invoicer-cli migrate -db-url postgres://localhost/invoicer?sslmode=disable
//
// reset-usage: start a new monthly usage period now, or for a given month
//
//	invoicer-cli reset-usage -month 2026-05
//
// set-plan: move an account between plans by hand
//
//	invoicer-cli set-plan owner@example.com pro
//
// A plan set this way is overwritten by the next subscription event for
// accounts that have a billing customer.
//
// render: compute totals and write a PDF without a database
//
//	invoicer-cli render draft.json invoice.pdf
//	invoicer-cli render -receipt -logo logo.png draft.json receipt.pdf
//
// seed-sequences: raise stored invoice sequences to the highest number
// already issued, after importing invoices
//
//	invoicer-cli seed-sequences
//
// Every database command reads INVOICER_POSTGRES_URL when -db-url is not
// given.
package cli
