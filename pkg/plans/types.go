package plans

import (
	"errors"
	"fmt"
	"time"
)

// Tier identifies a subscription plan
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierFor maps the stored pro flag to a tier
func TierFor(isPro bool) Tier {
	if isPro {
		return TierPro
	}
	return TierFree
}

// Feature names a capability that may be restricted by plan
type Feature string

const (
	FeatureLogoUpload Feature = "logo_upload"
	FeatureBranding   Feature = "branded_numbering"
)

// Plan holds the limits of a tier. A zero MonthlyInvoiceLimit means unlimited.
type Plan struct {
	Tier                Tier `yaml:"-" json:"tier"`
	MonthlyInvoiceLimit int  `yaml:"monthly_invoice_limit" json:"monthly_invoice_limit"`
	HistoryLimit        int  `yaml:"history_limit" json:"history_limit"`
	LogoUpload          bool `yaml:"logo_upload" json:"logo_upload"`
}

// Unlimited reports whether the plan has no monthly invoice cap
func (p Plan) Unlimited() bool {
	return p.MonthlyInvoiceLimit <= 0
}

// Allows reports whether the plan includes a feature
func (p Plan) Allows(f Feature) bool {
	switch f {
	case FeatureLogoUpload:
		return p.LogoUpload
	case FeatureBranding:
		return p.Tier == TierPro
	default:
		return false
	}
}

// Account is the slice of a user the enforcer needs
type Account struct {
	IsPro               bool
	MonthlyInvoiceCount int
	UsagePeriod         time.Time
}

// Usage describes invoice consumption in the current period.
// Limit and Remaining are -1 when the plan is unlimited.
type Usage struct {
	Plan        Tier      `json:"plan"`
	PeriodStart time.Time `json:"period_start"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
}

// PeriodStart returns the first instant of the usage month containing t
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CurrentCount returns the invoices counted against the period containing now.
// A counter from an earlier period counts as zero.
func (a Account) CurrentCount(now time.Time) int {
	if a.UsagePeriod.IsZero() || a.UsagePeriod.Before(PeriodStart(now)) {
		return 0
	}
	return a.MonthlyInvoiceCount
}

// ErrProRequired is returned when a feature is gated to the pro plan
var ErrProRequired = errors.New("this feature requires a Pro subscription")

// QuotaExceededError represents a plan limit being reached
type QuotaExceededError struct {
	Plan     Tier
	Resource string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	if e.Resource == "invoices" {
		return fmt.Sprintf("Free plan limit reached (%d invoices). Please upgrade to Pro to create more invoices.", e.Limit)
	}
	return "quota exceeded for " + e.Resource
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
