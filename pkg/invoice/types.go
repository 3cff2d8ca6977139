package invoice

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is an ISO-like currency code
type Currency string

const (
	CurrencyFCFA Currency = "FCFA"
	CurrencyEUR  Currency = "EUR"
	CurrencyUSD  Currency = "USD"
	CurrencyNGN  Currency = "NGN"
	CurrencyKES  Currency = "KES"
)

// DefaultCurrency is used when neither the draft nor the profile sets one
const DefaultCurrency = CurrencyFCFA

var currencyDecimals = map[Currency]int32{
	CurrencyFCFA: 0,
	CurrencyEUR:  2,
	CurrencyUSD:  2,
	CurrencyNGN:  2,
	CurrencyKES:  2,
}

var currencyAliases = map[string]Currency{
	"€":   CurrencyEUR,
	"$":   CurrencyUSD,
	"XOF": CurrencyFCFA,
	"XAF": CurrencyFCFA,
	"CFA": CurrencyFCFA,
}

// ParseCurrency accepts a code or symbol. An empty string yields the default.
func ParseCurrency(s string) (Currency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCurrency, nil
	}
	if c, ok := currencyAliases[strings.ToUpper(s)]; ok {
		return c, nil
	}
	c := Currency(strings.ToUpper(s))
	if _, ok := currencyDecimals[c]; !ok {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}

// Decimals returns the number of minor-unit digits
func (c Currency) Decimals() int32 {
	return currencyDecimals[c]
}

// Round rounds half away from zero to the currency's precision
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(c.Decimals())
}

// Format renders an amount with grouped thousands, e.g. "12 500 FCFA"
func (c Currency) Format(d decimal.Decimal) string {
	s := c.Round(d).StringFixed(c.Decimals())
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out + " " + string(c)
}

// Status is the payment state of an invoice
type Status string

const (
	StatusIssued Status = "issued"
	StatusPaid   Status = "paid"
)

// PaymentTerms selects the payment terms printed on an invoice
type PaymentTerms string

const (
	TermsDueOnReceipt PaymentTerms = "due_on_receipt"
	TermsNet15        PaymentTerms = "net_15"
	TermsNet30        PaymentTerms = "net_30"
	TermsNet60        PaymentTerms = "net_60"
	TermsCustom       PaymentTerms = "custom"
)

var termsLabels = map[PaymentTerms]string{
	TermsDueOnReceipt: "Payment due on receipt",
	TermsNet15:        "Payment due within 15 days",
	TermsNet30:        "Payment due within 30 days",
	TermsNet60:        "Payment due within 60 days",
}

// Label returns the printable text for the terms. Custom terms print their
// own text.
func (t PaymentTerms) Label(custom string) string {
	if t == TermsCustom {
		return custom
	}
	return termsLabels[t]
}

// Valid reports whether t is a known term or unset
func (t PaymentTerms) Valid() bool {
	_, ok := termsLabels[t]
	return ok || t == TermsCustom || t == ""
}

// Date is a calendar date that marshals as YYYY-MM-DD
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to its calendar date
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

// LineItem is one billed line. Net, Tax and Subtotal are always computed
// server-side.
type LineItem struct {
	Description string           `json:"description"`
	Quantity    int              `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	Net         decimal.Decimal  `json:"net"`
	Tax         decimal.Decimal  `json:"tax"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
}

// TaxPerUnit is the line tax spread over its quantity
func (l LineItem) TaxPerUnit(c Currency) decimal.Decimal {
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return c.Round(l.Tax.Div(decimal.NewFromInt(int64(l.Quantity))))
}

// Business is the issuer block printed on an invoice
type Business struct {
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	TIN      string `json:"tin,omitempty"`
	RCNumber string `json:"rc_number,omitempty"`
}

// Totals are the invoice-level sums
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	TaxTotal decimal.Decimal `json:"tax_total"`
	Total    decimal.Decimal `json:"total"`
}

// Invoice is an issued invoice
type Invoice struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Number   string    `json:"invoice_number"`
	Sequence int64     `json:"sequence"`

	Date        Date   `json:"invoice_date"`
	DueDate     *Date  `json:"due_date,omitempty"`
	ClientName  string `json:"client_name"`
	ClientTIN   string `json:"client_tin,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`

	Business Business `json:"business"`

	Currency         Currency        `json:"currency"`
	VATRate          decimal.Decimal `json:"vat_rate"`
	PricesIncludeVAT bool            `json:"prices_include_vat"`

	PaymentTerms       PaymentTerms `json:"payment_terms,omitempty"`
	PaymentTermsCustom string       `json:"payment_terms_custom,omitempty"`

	Notes string     `json:"notes,omitempty"`
	Items []LineItem `json:"items"`

	Totals

	Status         Status     `json:"status"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	LogoKey        string     `json:"logo_key,omitempty"`
	PDFKey         string     `json:"pdf_key,omitempty"`
	IdempotencyKey string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Draft is the client-supplied content of a new invoice. Unset fields take
// their value from the issuer's profile.
type Draft struct {
	Date        Date   `json:"invoice_date"`
	DueDate     *Date  `json:"due_date,omitempty"`
	ClientName  string `json:"client_name"`
	ClientTIN   string `json:"client_tin,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`

	Business *Business `json:"business,omitempty"`

	Currency         string           `json:"currency,omitempty"`
	VATRate          *decimal.Decimal `json:"vat_rate,omitempty"`
	PricesIncludeVAT *bool            `json:"prices_include_vat,omitempty"`

	PaymentTerms       PaymentTerms `json:"payment_terms,omitempty"`
	PaymentTermsCustom string       `json:"payment_terms_custom,omitempty"`

	Notes string     `json:"notes,omitempty"`
	Items []LineItem `json:"items"`
}

// Defaults are the profile values applied to a draft
type Defaults struct {
	Business         Business
	VATRegistered    bool
	VATRate          decimal.Decimal
	PricesIncludeVAT bool
	PaymentTerms     PaymentTerms
	Currency         string
}

// Filter narrows a history listing
type Filter struct {
	Search    string
	From      *time.Time
	To        *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Status    Status
	Limit     int
	Offset    int
}

// Page is one page of invoice history
type Page struct {
	Invoices []*Invoice `json:"invoices"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}
