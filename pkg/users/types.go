package users

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/invoicer/pkg/plans"
)

var (
	// ErrNotFound is returned when no user matches a lookup
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when registering an email that already exists
	ErrEmailTaken = errors.New("email already registered")
)

// User is an account and its invoice profile defaults
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	OIDCSubject  string    `json:"-"`

	IsPro            bool   `json:"is_pro"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`

	MonthlyInvoiceCount int       `json:"monthly_invoice_count"`
	UsagePeriod         time.Time `json:"usage_period"`

	CompanyName  string `json:"company_name"`
	ClientNumber string `json:"client_number"`

	BusinessName     string `json:"business_name"`
	BusinessAddress  string `json:"business_address"`
	BusinessPhone    string `json:"business_phone"`
	BusinessEmail    string `json:"business_email"`
	BusinessTIN      string `json:"business_tin"`
	BusinessRCNumber string `json:"business_rc_number"`

	VATRegistered       bool            `json:"vat_registered"`
	VATRate             decimal.Decimal `json:"vat_rate"`
	PricesIncludeVAT    bool            `json:"prices_include_vat"`
	DefaultPaymentTerms string          `json:"default_payment_terms"`
	DefaultCurrency     string          `json:"default_currency"`

	LogoKey string `json:"logo_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account returns the fields plan enforcement needs
func (u *User) Account() plans.Account {
	return plans.Account{
		IsPro:               u.IsPro,
		MonthlyInvoiceCount: u.MonthlyInvoiceCount,
		UsagePeriod:         u.UsagePeriod,
	}
}

// ProfileUpdate holds optional profile changes. Nil fields are left as is.
type ProfileUpdate struct {
	CompanyName  *string `json:"company_name,omitempty"`
	ClientNumber *string `json:"client_number,omitempty"`

	BusinessName     *string `json:"business_name,omitempty"`
	BusinessAddress  *string `json:"business_address,omitempty"`
	BusinessPhone    *string `json:"business_phone,omitempty"`
	BusinessEmail    *string `json:"business_email,omitempty"`
	BusinessTIN      *string `json:"business_tin,omitempty"`
	BusinessRCNumber *string `json:"business_rc_number,omitempty"`

	VATRegistered       *bool            `json:"vat_registered,omitempty"`
	VATRate             *decimal.Decimal `json:"vat_rate,omitempty"`
	PricesIncludeVAT    *bool            `json:"prices_include_vat,omitempty"`
	DefaultPaymentTerms *string          `json:"default_payment_terms,omitempty"`
	DefaultCurrency     *string          `json:"default_currency,omitempty"`
}

// Validate rejects out-of-range values
func (p ProfileUpdate) Validate() error {
	if r := p.VATRate; r != nil && (r.IsNegative() || r.GreaterThan(decimal.NewFromInt(100)) || !r.Equal(r.Round(2))) {
		return errors.New("vat_rate must be between 0 and 100 with at most two decimals")
	}
	if p.BusinessEmail != nil && *p.BusinessEmail != "" && !strings.Contains(*p.BusinessEmail, "@") {
		return errors.New("business_email is not a valid email address")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
