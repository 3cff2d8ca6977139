package plans

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// Enforcer applies plan limits against the active catalog.
// The catalog can be swapped at runtime by a Watcher.
type Enforcer struct {
	catalog atomic.Pointer[Catalog]
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEnforcer creates an enforcer. A nil catalog uses DefaultCatalog.
func NewEnforcer(catalog *Catalog, metrics *observability.Metrics) *Enforcer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Enforcer{metrics: metrics, now: time.Now}
	e.catalog.Store(catalog)
	return e
}

// Catalog returns the active catalog
func (e *Enforcer) Catalog() *Catalog {
	return e.catalog.Load()
}

// SetCatalog replaces the active catalog
func (e *Enforcer) SetCatalog(c *Catalog) {
	e.catalog.Store(c)
}

// PlanFor returns the plan of an account
func (e *Enforcer) PlanFor(isPro bool) Plan {
	return e.Catalog().Get(TierFor(isPro))
}

// HistoryLimit is the number of invoices an account may list
func (e *Enforcer) HistoryLimit(isPro bool) int {
	return e.PlanFor(isPro).HistoryLimit
}

// CheckInvoiceQuota returns a QuotaExceededError when the account has used
// its monthly allowance
func (e *Enforcer) CheckInvoiceQuota(acct Account) error {
	plan := e.PlanFor(acct.IsPro)
	if plan.Unlimited() {
		return nil
	}

	used := acct.CurrentCount(e.now())
	if used >= plan.MonthlyInvoiceLimit {
		e.metrics.QuotaRejected(string(plan.Tier), "invoices")
		return &QuotaExceededError{
			Plan:     plan.Tier,
			Resource: "invoices",
			Current:  int64(used),
			Limit:    int64(plan.MonthlyInvoiceLimit),
		}
	}
	return nil
}

// RequireFeature gates a feature behind the plan that includes it
func (e *Enforcer) RequireFeature(acct Account, feature Feature) error {
	plan := e.PlanFor(acct.IsPro)
	if plan.Allows(feature) {
		return nil
	}
	e.metrics.QuotaRejected(string(plan.Tier), string(feature))
	return fmt.Errorf("%w: %s", ErrProRequired, feature)
}

// Usage reports consumption for the current period
func (e *Enforcer) Usage(acct Account) Usage {
	now := e.now()
	plan := e.PlanFor(acct.IsPro)
	u := Usage{
		Plan:        plan.Tier,
		PeriodStart: PeriodStart(now),
		Used:        acct.CurrentCount(now),
		Limit:       -1,
		Remaining:   -1,
	}
	if !plan.Unlimited() {
		u.Limit = plan.MonthlyInvoiceLimit
		u.Remaining = max(plan.MonthlyInvoiceLimit-u.Used, 0)
	}
	return u
}
