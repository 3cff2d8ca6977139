package plans

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEnforcer(now time.Time) *Enforcer {
	e := NewEnforcer(nil, nil)
	e.now = func() time.Time { return now }
	return e
}

func TestCheckInvoiceQuota(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	e := fixedEnforcer(now)
	thisMonth := PeriodStart(now)

	tests := []struct {
		name    string
		acct    Account
		wantErr bool
	}{
		{"free under limit", Account{MonthlyInvoiceCount: 4, UsagePeriod: thisMonth}, false},
		{"free at limit", Account{MonthlyInvoiceCount: 5, UsagePeriod: thisMonth}, true},
		{"free stale period resets", Account{MonthlyInvoiceCount: 5, UsagePeriod: thisMonth.AddDate(0, -1, 0)}, false},
		{"free never used", Account{}, false},
		{"pro unlimited", Account{IsPro: true, MonthlyInvoiceCount: 500, UsagePeriod: thisMonth}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.CheckInvoiceQuota(tt.acct)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsQuotaExceeded(err))
			assert.Equal(t, "Free plan limit reached (5 invoices). Please upgrade to Pro to create more invoices.", err.Error())
		})
	}
}

func TestIsQuotaExceeded_Wrapped(t *testing.T) {
	err := errors.Join(errors.New("tx failed"), &QuotaExceededError{Resource: "invoices", Limit: 5})
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsQuotaExceeded(errors.New("other")))
}

func TestRequireFeature(t *testing.T) {
	e := NewEnforcer(nil, nil)

	err := e.RequireFeature(Account{}, FeatureLogoUpload)
	assert.ErrorIs(t, err, ErrProRequired)

	assert.NoError(t, e.RequireFeature(Account{IsPro: true}, FeatureLogoUpload))
	assert.NoError(t, e.RequireFeature(Account{IsPro: true}, FeatureBranding))
}

func TestUsage(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	e := fixedEnforcer(now)

	u := e.Usage(Account{MonthlyInvoiceCount: 3, UsagePeriod: PeriodStart(now)})
	assert.Equal(t, TierFree, u.Plan)
	assert.Equal(t, 3, u.Used)
	assert.Equal(t, 5, u.Limit)
	assert.Equal(t, 2, u.Remaining)

	u = e.Usage(Account{IsPro: true, MonthlyInvoiceCount: 12, UsagePeriod: PeriodStart(now)})
	assert.Equal(t, TierPro, u.Plan)
	assert.Equal(t, -1, u.Limit)
	assert.Equal(t, -1, u.Remaining)
}

func TestHistoryLimit(t *testing.T) {
	e := NewEnforcer(nil, nil)
	assert.Equal(t, 5, e.HistoryLimit(false))
	assert.Equal(t, 100, e.HistoryLimit(true))
}

func TestPeriodStart(t *testing.T) {
	got := PeriodStart(time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), got)
}
