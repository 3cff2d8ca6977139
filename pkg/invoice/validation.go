package invoice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every violation found in a draft
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields maps each invalid field to its message
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, v := range e {
		out[v.Field] = v.Message
	}
	return out
}

// IsValidationError reports whether err carries validation failures
func IsValidationError(err error) bool {
	var ve ValidationErrors
	var single *ValidationError
	return errors.As(err, &ve) || errors.As(err, &single)
}

// Validate checks a draft after defaults have been applied
func Validate(d *Draft) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if strings.TrimSpace(d.ClientName) == "" {
		add("client_name", "client name is required")
	}
	if d.ClientEmail != "" && !strings.Contains(d.ClientEmail, "@") {
		add("client_email", "client email is not a valid email address")
	}
	if d.DueDate != nil && !d.Date.IsZero() && d.DueDate.Before(d.Date.Time) {
		add("due_date", "due date cannot be before the invoice date")
	}
	if len(d.Items) == 0 {
		add("items", "at least one line item is required")
	}
	for i, item := range d.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Description) == "" {
			add(field+".description", "description is required")
		}
		if item.Quantity < 1 {
			add(field+".quantity", "quantity must be at least 1")
		}
		if item.UnitPrice.IsNegative() {
			add(field+".unit_price", "unit price cannot be negative")
		}
		if item.TaxRate != nil && !validRate(*item.TaxRate) {
			add(field+".tax_rate", "tax rate must be between 0 and 100 with at most two decimals")
		}
	}
	if d.VATRate != nil && !validRate(*d.VATRate) {
		add("vat_rate", "VAT rate must be between 0 and 100 with at most two decimals")
	}
	if _, err := ParseCurrency(d.Currency); err != nil {
		add("currency", err.Error())
	}
	if !d.PaymentTerms.Valid() {
		add("payment_terms", "unknown payment terms")
	}
	if d.PaymentTerms == TermsCustom && strings.TrimSpace(d.PaymentTermsCustom) == "" {
		add("payment_terms_custom", "custom payment terms require text")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validRate accepts percentages that fit the NUMERIC(5,2) rate columns
func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && !r.GreaterThan(hundred) && r.Equal(r.Round(2))
}

// ApplyDefaults fills unset draft fields from the issuer's profile
func ApplyDefaults(d Draft, def Defaults, now time.Time) Draft {
	if d.Date.IsZero() {
		d.Date = NewDate(now)
	}
	if d.Business == nil {
		b := def.Business
		d.Business = &b
	}
	if d.Currency == "" {
		d.Currency = def.Currency
	}
	if d.VATRate == nil {
		rate := decimal.Zero
		if def.VATRegistered {
			rate = def.VATRate
		}
		d.VATRate = &rate
	}
	if d.PricesIncludeVAT == nil {
		incl := def.PricesIncludeVAT
		d.PricesIncludeVAT = &incl
	}
	if d.PaymentTerms == "" {
		d.PaymentTerms = def.PaymentTerms
	}
	return d
}

// Build applies defaults, validates and computes totals. The result has no
// identity or number yet.
func Build(d Draft, def Defaults, now time.Time) (*Invoice, error) {
	d = ApplyDefaults(d, def, now)
	if err := Validate(&d); err != nil {
		return nil, err
	}

	currency, _ := ParseCurrency(d.Currency)
	items, totals := ComputeTotals(d.Items, *d.VATRate, *d.PricesIncludeVAT, currency)

	return &Invoice{
		Date:               d.Date,
		DueDate:            d.DueDate,
		ClientName:         strings.TrimSpace(d.ClientName),
		ClientTIN:          d.ClientTIN,
		ClientEmail:        d.ClientEmail,
		Business:           *d.Business,
		Currency:           currency,
		VATRate:            *d.VATRate,
		PricesIncludeVAT:   *d.PricesIncludeVAT,
		PaymentTerms:       d.PaymentTerms,
		PaymentTermsCustom: d.PaymentTermsCustom,
		Notes:              d.Notes,
		Items:              items,
		Totals:             totals,
		Status:             StatusIssued,
	}, nil
}
