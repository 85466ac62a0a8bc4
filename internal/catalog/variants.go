package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DukeRupert/sitegate/internal/domain"
)

// VariantDefinition configures one upgrade-prompt presentation.
//
// Tiers and Alerts restrict eligibility; empty means any. A variant that
// carries a discount must name its tiers explicitly and may not include a
// tier with custom contractual pricing.
type VariantDefinition struct {
	ID                 string
	Trigger            domain.TriggerType
	Tiers              []domain.Tier
	Alerts             []domain.UsageAlert
	Weight             int
	Title              string
	Message            string
	CTAText            string
	SecondaryCTAText   string
	Style              string
	Position           string
	DiscountPercentage int
	UrgencyTimer       time.Duration
	TargetTier         domain.Tier
}

type variant struct {
	VariantDefinition
}

func (v variant) eligible(q domain.VariantQuery) bool {
	if v.Trigger != q.Trigger {
		return false
	}
	if len(v.Tiers) > 0 && !slices.Contains(v.Tiers, q.Tier) {
		return false
	}
	if len(v.Alerts) > 0 && !slices.Contains(v.Alerts, q.UsageAlert) {
		return false
	}
	return true
}

var (
	validStyles    = []string{"modal", "banner", "toast", "inline", "sheet"}
	validPositions = []string{"top", "bottom", "center", "inline"}
	validAlerts    = []domain.UsageAlert{domain.UsageAlertNone, domain.UsageAlertWarning, domain.UsageAlertCritical, domain.UsageAlertExceeded}
)

func (c *Catalog) loadVariants(defs []VariantDefinition) error {
	for i, def := range defs {
		if def.ID == "" {
			return misconfigured("variant at position %d has no id", i)
		}
		if _, dup := c.byID[def.ID]; dup {
			return misconfigured("duplicate variant id %q", def.ID)
		}
		if !def.Trigger.Valid() {
			return misconfigured("variant %q has unknown trigger %q", def.ID, def.Trigger)
		}
		if def.Title == "" || def.CTAText == "" {
			return misconfigured("variant %q requires title and ctaText", def.ID)
		}
		if def.Weight < 0 {
			return misconfigured("variant %q has negative weight", def.ID)
		}
		if def.Style == "" {
			def.Style = "modal"
		}
		if !slices.Contains(validStyles, def.Style) {
			return misconfigured("variant %q has unknown style %q", def.ID, def.Style)
		}
		if def.Position == "" {
			def.Position = "center"
		}
		if !slices.Contains(validPositions, def.Position) {
			return misconfigured("variant %q has unknown position %q", def.ID, def.Position)
		}
		for _, t := range def.Tiers {
			if !t.Valid() {
				return fmt.Errorf("%w: variant %q: %w: %q", domain.ErrMisconfiguredCatalog, def.ID, domain.ErrUnknownTier, t)
			}
		}
		for _, a := range def.Alerts {
			if !slices.Contains(validAlerts, a) {
				return misconfigured("variant %q has unknown usage alert %q", def.ID, a)
			}
		}
		if def.TargetTier != "" && !def.TargetTier.Valid() {
			return fmt.Errorf("%w: variant %q: %w: %q", domain.ErrMisconfiguredCatalog, def.ID, domain.ErrUnknownTier, def.TargetTier)
		}
		if def.UrgencyTimer < 0 {
			return misconfigured("variant %q has negative urgency timer", def.ID)
		}
		if err := validateDiscount(def); err != nil {
			return err
		}

		c.byID[def.ID] = len(c.variants)
		c.variants = append(c.variants, variant{def})
	}
	return nil
}

func validateDiscount(def VariantDefinition) error {
	if def.DiscountPercentage == 0 {
		return nil
	}
	if def.DiscountPercentage < 0 || def.DiscountPercentage > 100 {
		return misconfigured("variant %q discount %d outside 1..100", def.ID, def.DiscountPercentage)
	}
	if len(def.Tiers) == 0 {
		return misconfigured("discount variant %q must list eligible tiers", def.ID)
	}
	for _, t := range def.Tiers {
		if t.HasCustomPricing() {
			return misconfigured("discount variant %q may not target tier %q", def.ID, t)
		}
	}
	return nil
}

// SelectVariant picks the variant for a query. An explicit override wins when
// it is eligible; otherwise the bucket key is hashed (FNV-1a) over the
// weights of the eligible variants so a user sees the same arm every time.
// It returns nil, nil when nothing is configured for the query and
// domain.ErrVariantNotFound when an override names an unknown or
// ineligible variant.
func (c *Catalog) SelectVariant(_ context.Context, q domain.VariantQuery) (*domain.PromptSpec, error) {
	if q.Override != "" {
		idx, ok := c.byID[q.Override]
		if !ok || !c.variants[idx].eligible(q) {
			return nil, fmt.Errorf("%w: %q", domain.ErrVariantNotFound, q.Override)
		}
		return c.variants[idx].render(q), nil
	}

	var (
		candidates []variant
		total      uint32
	)
	for _, v := range c.variants {
		if v.eligible(q) && v.Weight > 0 {
			candidates = append(candidates, v)
			total += uint32(v.Weight)
		}
	}
	if total == 0 {
		return nil, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(q.BucketKey))
	point := h.Sum32() % total

	for _, v := range candidates {
		w := uint32(v.Weight)
		if point < w {
			return v.render(q), nil
		}
		point -= w
	}

	// unreachable: point < total
	return candidates[len(candidates)-1].render(q), nil
}

// Variant returns the definition for an id.
func (c *Catalog) Variant(id string) (VariantDefinition, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return VariantDefinition{}, false
	}
	return c.variants[idx].VariantDefinition, true
}

var titleCaser = cases.Title(language.English)

// DisplayTier returns the human-readable tier name.
func DisplayTier(t domain.Tier) string {
	return titleCaser.String(string(t))
}

func (v variant) render(q domain.VariantQuery) *domain.PromptSpec {
	target := q.TargetTier
	if v.TargetTier != "" {
		target = v.TargetTier
	}

	used, limit, remaining := "0", "unlimited", "unlimited"
	if q.Usage != nil {
		used = strconv.FormatInt(q.Usage.Used, 10)
		if q.Usage.Limit != nil {
			limit = strconv.FormatInt(*q.Usage.Limit, 10)
		}
		if q.Usage.Remaining != nil {
			remaining = strconv.FormatInt(*q.Usage.Remaining, 10)
		}
	}

	r := strings.NewReplacer(
		"{tier}", DisplayTier(q.Tier),
		"{target_tier}", DisplayTier(target),
		"{used}", used,
		"{limit}", limit,
		"{remaining}", remaining,
	)

	spec := &domain.PromptSpec{
		VariantID:        v.ID,
		Title:            r.Replace(v.Title),
		Message:          r.Replace(v.Message),
		CTAText:          r.Replace(v.CTAText),
		SecondaryCTAText: r.Replace(v.SecondaryCTAText),
		Style:            v.Style,
		Position:         v.Position,
		TargetTier:       target,
	}
	if v.DiscountPercentage > 0 {
		d := v.DiscountPercentage
		spec.DiscountPercentage = &d
	}
	if v.UrgencyTimer > 0 {
		secs := int(v.UrgencyTimer / time.Second)
		spec.UrgencyTimerSeconds = &secs
	}
	return spec
}
