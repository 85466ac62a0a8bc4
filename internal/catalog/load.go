package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DukeRupert/sitegate/internal/domain"
)

//go:embed default.yaml
var defaultCatalog []byte

// Opener reads a catalog document by key. storage.Source satisfies it.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type fileFormat struct {
	Tiers    []tierFile    `yaml:"tiers"`
	Variants []variantFile `yaml:"variants"`
}

type tierFile struct {
	Name     string            `yaml:"name"`
	Features []string          `yaml:"features"`
	Limits   map[string]*int64 `yaml:"limits"`
}

type variantFile struct {
	ID                 string        `yaml:"id"`
	Trigger            string        `yaml:"trigger"`
	Tiers              []string      `yaml:"tiers"`
	Alerts             []string      `yaml:"alerts"`
	Weight             *int          `yaml:"weight"`
	Title              string        `yaml:"title"`
	Message            string        `yaml:"message"`
	CTAText            string        `yaml:"ctaText"`
	SecondaryCTAText   string        `yaml:"secondaryCtaText"`
	Style              string        `yaml:"style"`
	Position           string        `yaml:"position"`
	DiscountPercentage int           `yaml:"discountPercentage"`
	UrgencyTimer       time.Duration `yaml:"urgencyTimer"`
	TargetTier         string        `yaml:"targetTier"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFrom reads and validates the catalog document stored at key.
func LoadFrom(ctx context.Context, src Opener, key string) (*Catalog, error) {
	rc, err := src.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", key, err)
	}
	defer rc.Close()

	return Load(rc)
}

// Load parses a YAML catalog document and validates it. Unknown fields are
// rejected so typos fail loudly.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc fileFormat
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", domain.ErrMisconfiguredCatalog, err)
	}

	tiers := make([]TierDefinition, 0, len(doc.Tiers))
	for _, tf := range doc.Tiers {
		def := TierDefinition{
			Tier:   domain.Tier(tf.Name),
			Limits: make(map[domain.UsageType]*int64, len(tf.Limits)),
		}
		for _, f := range tf.Features {
			def.Features = append(def.Features, domain.Feature(f))
		}
		for u, l := range tf.Limits {
			def.Limits[domain.UsageType(u)] = l
		}
		tiers = append(tiers, def)
	}

	variants := make([]VariantDefinition, 0, len(doc.Variants))
	for _, vf := range doc.Variants {
		weight := 1
		if vf.Weight != nil {
			weight = *vf.Weight
		}
		def := VariantDefinition{
			ID:                 vf.ID,
			Trigger:            domain.TriggerType(vf.Trigger),
			Weight:             weight,
			Title:              vf.Title,
			Message:            vf.Message,
			CTAText:            vf.CTAText,
			SecondaryCTAText:   vf.SecondaryCTAText,
			Style:              vf.Style,
			Position:           vf.Position,
			DiscountPercentage: vf.DiscountPercentage,
			UrgencyTimer:       vf.UrgencyTimer,
			TargetTier:         domain.Tier(vf.TargetTier),
		}
		for _, t := range vf.Tiers {
			def.Tiers = append(def.Tiers, domain.Tier(t))
		}
		for _, a := range vf.Alerts {
			def.Alerts = append(def.Alerts, domain.UsageAlert(a))
		}
		variants = append(variants, def)
	}

	return New(tiers, variants)
}
