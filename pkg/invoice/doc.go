// Package invoice computes, numbers and stores invoices.
//
// Totals are always recomputed server-side with decimal arithmetic: every
// line is rounded to the currency's precision (half away from zero) before
// it is summed, so the invoice total equals the sum of its line subtotals.
//
// Numbers come from a per-user sequence row incremented inside the creation
// transaction. Free accounts get FACT-001 style numbers, pro accounts get
// branded {COMPANY}-{YYYYMMDD}-{CLIENT}-{N} numbers.
package invoice
