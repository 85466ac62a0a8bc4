// Package catalog holds the tier catalog and the upgrade-prompt variant catalog.
//
// Both are configuration: they are loaded once at startup, validated, and
// treated as immutable afterwards. Every lookup is a direct map read, so a
// *Catalog is safe for concurrent use without locking.
//
// A catalog that violates an invariant (tier order, monotonic features,
// monotonic limits, discount eligibility) is rejected with
// domain.ErrMisconfiguredCatalog so the process fails at startup instead of
// under- or over-granting at runtime.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/DukeRupert/sitegate/internal/domain"
)

// TierDefinition is the configured entitlement set for one tier.
//
// A usage type present in Limits with a nil value is unlimited. A usage type
// absent from Limits is not granted (limit 0).
type TierDefinition struct {
	Tier     domain.Tier
	Features []domain.Feature
	Limits   map[domain.UsageType]*int64
}

type tierEntry struct {
	features map[domain.Feature]struct{}
	limits   map[domain.UsageType]*int64
}

// Catalog is the validated, immutable tier and variant lookup table.
type Catalog struct {
	order      []domain.Tier
	tiers      map[domain.Tier]tierEntry
	usageTypes []domain.UsageType
	floors     map[domain.Feature]domain.Tier
	variants   []variant
	byID       map[string]int
}

// Entitlements summarises what a tier grants.
type Entitlements struct {
	Tier     domain.Tier                 `json:"tier"`
	Features []domain.Feature            `json:"features"`
	Limits   map[domain.UsageType]*int64 `json:"limits"`
}

// New validates the definitions and builds a Catalog. Tier definitions must
// list every known tier exactly once, in ascending order.
func New(tiers []TierDefinition, variants []VariantDefinition) (*Catalog, error) {
	c := &Catalog{
		tiers:  make(map[domain.Tier]tierEntry, len(tiers)),
		floors: make(map[domain.Feature]domain.Tier),
		byID:   make(map[string]int),
	}

	if err := c.loadTiers(tiers); err != nil {
		return nil, err
	}
	if err := c.validateMonotonic(); err != nil {
		return nil, err
	}
	if err := c.loadVariants(variants); err != nil {
		return nil, err
	}

	return c, nil
}

func misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMisconfiguredCatalog, fmt.Sprintf(format, args...))
}

func (c *Catalog) loadTiers(defs []TierDefinition) error {
	want := domain.AllTiers()
	if len(defs) != len(want) {
		return misconfigured("expected %d tiers %v, got %d", len(want), want, len(defs))
	}

	seenUsage := make(map[domain.UsageType]struct{})
	for i, def := range defs {
		if !def.Tier.Valid() {
			return fmt.Errorf("%w: %w: %q", domain.ErrMisconfiguredCatalog, domain.ErrUnknownTier, def.Tier)
		}
		if def.Tier != want[i] {
			return misconfigured("tier at position %d is %q, expected %q", i, def.Tier, want[i])
		}

		entry := tierEntry{
			features: make(map[domain.Feature]struct{}, len(def.Features)),
			limits:   make(map[domain.UsageType]*int64, len(def.Limits)),
		}
		for _, f := range def.Features {
			if f == "" {
				return misconfigured("tier %q has an empty feature name", def.Tier)
			}
			entry.features[f] = struct{}{}
			if _, ok := c.floors[f]; !ok {
				c.floors[f] = def.Tier
			}
		}
		for u, limit := range def.Limits {
			if u == "" {
				return misconfigured("tier %q has an empty usage type", def.Tier)
			}
			if limit != nil && *limit < 0 {
				return misconfigured("tier %q usage %q has negative limit %d", def.Tier, u, *limit)
			}
			entry.limits[u] = copyLimit(limit)
			if _, ok := seenUsage[u]; !ok {
				seenUsage[u] = struct{}{}
				c.usageTypes = append(c.usageTypes, u)
			}
		}

		c.order = append(c.order, def.Tier)
		c.tiers[def.Tier] = entry
	}

	slices.Sort(c.usageTypes)
	return nil
}

// validateMonotonic checks that every grant at tier T is also granted at T+1.
// Checking adjacent pairs is sufficient because the relation is transitive.
func (c *Catalog) validateMonotonic() error {
	var errs []error
	for i := 1; i < len(c.order); i++ {
		lower, higher := c.order[i-1], c.order[i]
		lo, hi := c.tiers[lower], c.tiers[higher]

		for f := range lo.features {
			if _, ok := hi.features[f]; !ok {
				errs = append(errs, misconfigured("feature %q enabled at %q but not at %q", f, lower, higher))
			}
		}

		for _, u := range c.usageTypes {
			if !limitAtMost(c.limit(lower, u), c.limit(higher, u)) {
				errs = append(errs, misconfigured("usage %q limit at %q (%s) exceeds limit at %q (%s)",
					u, lower, formatLimit(c.limit(lower, u)), higher, formatLimit(c.limit(higher, u))))
			}
		}
	}
	return errors.Join(errs...)
}

// limitAtMost reports a <= b where nil is unlimited.
func limitAtMost(a, b *int64) bool {
	if b == nil {
		return true
	}
	if a == nil {
		return false
	}
	return *a <= *b
}

func formatLimit(l *int64) string {
	if l == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *l)
}

func copyLimit(l *int64) *int64 {
	if l == nil {
		return nil
	}
	v := *l
	return &v
}

func (c *Catalog) limit(tier domain.Tier, u domain.UsageType) *int64 {
	entry := c.tiers[tier]
	limit, ok := entry.limits[u]
	if !ok {
		return domain.Int64(0)
	}
	return limit
}

// CompareTiers returns -1, 0 or 1 as a is below, equal to or above b.
func (c *Catalog) CompareTiers(a, b domain.Tier) (int, error) {
	if _, ok := c.tiers[a]; !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownTier, a)
	}
	if _, ok := c.tiers[b]; !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownTier, b)
	}
	ra, rb := a.Rank(), b.Rank()
	switch {
	case ra < rb:
		return -1, nil
	case ra > rb:
		return 1, nil
	default:
		return 0, nil
	}
}

// HasFeature reports whether the feature is enabled at tier.
func (c *Catalog) HasFeature(tier domain.Tier, feature domain.Feature) bool {
	entry, ok := c.tiers[tier]
	if !ok {
		return false
	}
	_, ok = entry.features[feature]
	return ok
}

// LimitFor returns the monthly limit for a usage type at tier; nil means unlimited.
// The returned pointer is a copy and may be modified by the caller.
func (c *Catalog) LimitFor(tier domain.Tier, usageType domain.UsageType) *int64 {
	if _, ok := c.tiers[tier]; !ok {
		return domain.Int64(0)
	}
	return copyLimit(c.limit(tier, usageType))
}

// LowestTierWith returns the lowest tier that enables feature.
func (c *Catalog) LowestTierWith(feature domain.Feature) (domain.Tier, bool) {
	t, ok := c.floors[feature]
	return t, ok
}

// Tiers returns the configured tier order.
func (c *Catalog) Tiers() []domain.Tier {
	return slices.Clone(c.order)
}

// UsageTypes returns every usage type mentioned by any tier, sorted.
func (c *Catalog) UsageTypes() []domain.UsageType {
	return slices.Clone(c.usageTypes)
}

// Entitlements returns the features and limits granted at tier.
func (c *Catalog) Entitlements(tier domain.Tier) (Entitlements, error) {
	entry, ok := c.tiers[tier]
	if !ok {
		return Entitlements{}, fmt.Errorf("%w: %q", domain.ErrUnknownTier, tier)
	}

	features := make([]domain.Feature, 0, len(entry.features))
	for f := range entry.features {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

	limits := make(map[domain.UsageType]*int64, len(c.usageTypes))
	for _, u := range c.usageTypes {
		limits[u] = copyLimit(c.limit(tier, u))
	}

	return Entitlements{Tier: tier, Features: features, Limits: limits}, nil
}
