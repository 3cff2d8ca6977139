// Package plans defines the free and pro tiers and enforces their limits.
//
// Free accounts may create a fixed number of invoices per calendar month and
// see a short history. Pro accounts are unlimited, see a longer history and
// may upload a logo. The catalog can be loaded from YAML and is reloaded when
// the file changes:
//
//	plans:
//	  free:
//	    monthly_invoice_limit: 5
//	    history_limit: 5
//	  pro:
//	    history_limit: 100
//	    logo_upload: true
package plans
