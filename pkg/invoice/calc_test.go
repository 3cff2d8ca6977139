package invoice

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func TestComputeTotals_Exclusive(t *testing.T) {
	items := []LineItem{
		{Description: "Consulting", Quantity: 2, UnitPrice: dec("1000")},
		{Description: "Travel", Quantity: 1, UnitPrice: dec("500")},
	}

	out, totals := ComputeTotals(items, dec("19.25"), false, CurrencyFCFA)
	require.Len(t, out, 2)

	assertDec(t, "2000", out[0].Net)
	assertDec(t, "385", out[0].Tax)
	assertDec(t, "2385", out[0].Subtotal)

	// 96.25 rounds to 96 with no minor units
	assertDec(t, "96", out[1].Tax)
	assertDec(t, "596", out[1].Subtotal)

	assertDec(t, "2500", totals.Subtotal)
	assertDec(t, "481", totals.TaxTotal)
	assertDec(t, "2981", totals.Total)

	// input is not modified
	assert.True(t, items[0].Net.IsZero())
}

func TestComputeTotals_Inclusive(t *testing.T) {
	items := []LineItem{{Description: "Box", Quantity: 1, UnitPrice: dec("107.50")}}

	out, totals := ComputeTotals(items, dec("7.5"), true, CurrencyEUR)
	assertDec(t, "107.50", out[0].Subtotal)
	assertDec(t, "100", out[0].Net)
	assertDec(t, "7.50", out[0].Tax)
	assertDec(t, "107.50", totals.Total)

	out, totals = ComputeTotals([]LineItem{{Quantity: 1, UnitPrice: dec("1000")}}, dec("19.25"), true, CurrencyFCFA)
	assertDec(t, "839", out[0].Net)
	assertDec(t, "161", out[0].Tax)
	assertDec(t, "1000", totals.Total)
}

func TestComputeTotals_ZeroRateIsPlainSum(t *testing.T) {
	items := []LineItem{
		{Quantity: 3, UnitPrice: dec("19.99")},
		{Quantity: 1, UnitPrice: dec("0.01")},
	}
	_, totals := ComputeTotals(items, decimal.Zero, false, CurrencyUSD)
	assertDec(t, "59.98", totals.Total)
	assertDec(t, "0", totals.TaxTotal)
	assertDec(t, "59.98", totals.Subtotal)
}

func TestComputeTotals_LineRateOverride(t *testing.T) {
	zero := decimal.Zero
	items := []LineItem{
		{Quantity: 1, UnitPrice: dec("100")},
		{Quantity: 1, UnitPrice: dec("100"), TaxRate: &zero},
	}
	out, totals := ComputeTotals(items, dec("10"), false, CurrencyEUR)
	assertDec(t, "10", out[0].Tax)
	assertDec(t, "0", out[1].Tax)
	assertDec(t, "210", totals.Total)
}

func TestComputeTotals_RoundsHalfAwayFromZero(t *testing.T) {
	out, _ := ComputeTotals([]LineItem{{Quantity: 1, UnitPrice: dec("0.125")}}, decimal.Zero, false, CurrencyEUR)
	assertDec(t, "0.13", out[0].Net)

	out, _ = ComputeTotals([]LineItem{{Quantity: 1, UnitPrice: dec("2.5")}}, decimal.Zero, false, CurrencyFCFA)
	assertDec(t, "3", out[0].Net)
}

func TestComputeTotals_TotalEqualsSumOfLines(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	currencies := []Currency{CurrencyFCFA, CurrencyEUR, CurrencyUSD, CurrencyNGN, CurrencyKES}

	for i := 0; i < 500; i++ {
		n := 1 + r.Intn(8)
		items := make([]LineItem, n)
		for j := range items {
			items[j] = LineItem{
				Quantity:  1 + r.Intn(20),
				UnitPrice: decimal.New(int64(r.Intn(1_000_000)), -int32(r.Intn(4))),
			}
		}
		rate := decimal.New(int64(r.Intn(3000)), -2)
		currency := currencies[r.Intn(len(currencies))]
		inclusive := r.Intn(2) == 0

		out, totals := ComputeTotals(items, rate, inclusive, currency)

		sum := decimal.Zero
		for _, item := range out {
			sum = sum.Add(item.Subtotal)
			require.True(t, item.Net.Add(item.Tax).Equal(item.Subtotal))
		}
		require.True(t, totals.Total.Equal(sum), "total %s != sum %s", totals.Total, sum)
		require.True(t, totals.Total.Equal(totals.Subtotal.Add(totals.TaxTotal)))
	}
}

func TestReceiptBreakdown(t *testing.T) {
	net, vat := ReceiptBreakdown(dec("1075"), decimal.Zero, CurrencyFCFA)
	assertDec(t, "1000", net)
	assertDec(t, "75", vat)

	net, vat = ReceiptBreakdown(dec("119.25"), dec("19.25"), CurrencyEUR)
	assertDec(t, "100", net)
	assertDec(t, "19.25", vat)
}

func TestCurrency(t *testing.T) {
	tests := []struct {
		in      string
		want    Currency
		wantErr bool
	}{
		{"", CurrencyFCFA, false},
		{"fcfa", CurrencyFCFA, false},
		{"XOF", CurrencyFCFA, false},
		{"€", CurrencyEUR, false},
		{"$", CurrencyUSD, false},
		{"ngn", CurrencyNGN, false},
		{"KES", CurrencyKES, false},
		{"GBP", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCurrency(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, int32(0), CurrencyFCFA.Decimals())
	assert.Equal(t, "12 500 FCFA", CurrencyFCFA.Format(dec("12500")))
	assert.Equal(t, "1 234 567.50 EUR", CurrencyEUR.Format(dec("1234567.5")))
	assert.Equal(t, "-950.00 USD", CurrencyUSD.Format(dec("-950")))
}

func TestLineItem_TaxPerUnit(t *testing.T) {
	item := LineItem{Quantity: 3, Tax: dec("10")}
	assertDec(t, "3.33", item.TaxPerUnit(CurrencyEUR))
	assertDec(t, "0", LineItem{}.TaxPerUnit(CurrencyEUR))
}
