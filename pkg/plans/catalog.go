package plans

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of plans offered
type Catalog struct {
	Plans map[Tier]Plan `yaml:"plans"`
}

// DefaultCatalog returns the built-in free and pro plans
func DefaultCatalog() *Catalog {
	return &Catalog{
		Plans: map[Tier]Plan{
			TierFree: {
				Tier:                TierFree,
				MonthlyInvoiceLimit: 5,
				HistoryLimit:        5,
				LogoUpload:          false,
			},
			TierPro: {
				Tier:                TierPro,
				MonthlyInvoiceLimit: 0,
				HistoryLimit:        100,
				LogoUpload:          true,
			},
		},
	}
}

// Get returns the plan for a tier, falling back to the free plan
func (c *Catalog) Get(tier Tier) Plan {
	if p, ok := c.Plans[tier]; ok {
		return p
	}
	return c.Plans[TierFree]
}

// ParseCatalog decodes a YAML catalog. Tiers missing from the document keep
// their defaults.
func ParseCatalog(data []byte) (*Catalog, error) {
	// A truncated file mid-write must not reset limits to defaults
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	var doc Catalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	catalog := DefaultCatalog()
	for tier, plan := range doc.Plans {
		if tier != TierFree && tier != TierPro {
			return nil, fmt.Errorf("unknown plan tier %q", tier)
		}
		if plan.MonthlyInvoiceLimit < 0 || plan.HistoryLimit < 0 {
			return nil, fmt.Errorf("plan %s: limits must not be negative", tier)
		}
		plan.Tier = tier
		catalog.Plans[tier] = plan
	}
	return catalog, nil
}

// LoadCatalog reads a YAML catalog from disk
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return ParseCatalog(data)
}
