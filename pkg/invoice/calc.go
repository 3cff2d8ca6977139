package invoice

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultReceiptVATRate is used for receipts of invoices issued without VAT
var DefaultReceiptVATRate = decimal.RequireFromString("7.5")

// ComputeTotals recomputes every line and the invoice sums. A line's own
// TaxRate overrides vatRate. The returned items are a copy.
//
// Each line is rounded before summing, so Total always equals the sum of
// line subtotals and Subtotal plus TaxTotal.
func ComputeTotals(items []LineItem, vatRate decimal.Decimal, pricesIncludeVAT bool, currency Currency) ([]LineItem, Totals) {
	out := make([]LineItem, len(items))
	totals := Totals{
		Subtotal: decimal.Zero,
		TaxTotal: decimal.Zero,
		Total:    decimal.Zero,
	}

	for i, item := range items {
		rate := vatRate
		if item.TaxRate != nil {
			rate = *item.TaxRate
		}
		amount := currency.Round(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))

		if pricesIncludeVAT {
			item.Subtotal = amount
			item.Net = currency.Round(amount.Div(decimal.NewFromInt(1).Add(rate.Div(hundred))))
			item.Tax = item.Subtotal.Sub(item.Net)
		} else {
			item.Net = amount
			item.Tax = currency.Round(amount.Mul(rate).Div(hundred))
			item.Subtotal = item.Net.Add(item.Tax)
		}

		totals.Subtotal = totals.Subtotal.Add(item.Net)
		totals.TaxTotal = totals.TaxTotal.Add(item.Tax)
		totals.Total = totals.Total.Add(item.Subtotal)
		out[i] = item
	}

	return out, totals
}

// ReceiptBreakdown splits a paid total into its net and VAT parts. A zero
// rate falls back to DefaultReceiptVATRate.
func ReceiptBreakdown(total, rate decimal.Decimal, currency Currency) (net, vat decimal.Decimal) {
	if !rate.IsPositive() {
		rate = DefaultReceiptVATRate
	}
	net = currency.Round(total.Div(decimal.NewFromInt(1).Add(rate.Div(hundred))))
	return net, total.Sub(net)
}

