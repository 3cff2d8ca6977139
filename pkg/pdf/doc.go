// Package pdf lays out invoices and payment receipts as A4 documents.
//
// Renderer is pure: it turns an invoice.Invoice into PDF bytes with fpdf.
// Service adds the operational parts. Renders are keyed by invoice id and
// last update, shared between concurrent requests, and cached in memory.
// The first download of an invoice is archived to object storage in the
// background, and Share hands out a presigned link to that archive.
package pdf
