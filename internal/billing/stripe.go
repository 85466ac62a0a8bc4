// Package billing provides the Stripe integration that keeps subscriber tiers
// in sync with subscriptions.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/sitegate/internal/domain"
)

// Service defines the billing operations the tier-change webhook needs.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the tier a Stripe price grants, or false for an
	// unconfigured price.
	TierForPriceID(priceID string) (domain.Tier, bool)
}

// PriceConfig holds the Stripe price IDs for each paid tier. Empty ids are ignored.
type PriceConfig struct {
	UserMonthlyPriceID       string
	UserYearlyPriceID        string
	TeamMonthlyPriceID       string
	TeamYearlyPriceID        string
	EnterpriseMonthlyPriceID string
	EnterpriseYearlyPriceID  string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	priceToTier   map[string]domain.Tier
}

// NewStripeService creates a new Stripe billing service. The webhookSecret
// verifies incoming webhook signatures; no Stripe API calls are made.
func NewStripeService(webhookSecret string, prices PriceConfig) Service {
	priceToTier := make(map[string]domain.Tier)
	for id, tier := range map[string]domain.Tier{
		prices.UserMonthlyPriceID:       domain.TierUser,
		prices.UserYearlyPriceID:        domain.TierUser,
		prices.TeamMonthlyPriceID:       domain.TierTeam,
		prices.TeamYearlyPriceID:        domain.TierTeam,
		prices.EnterpriseMonthlyPriceID: domain.TierEnterprise,
		prices.EnterpriseYearlyPriceID:  domain.TierEnterprise,
	} {
		if id != "" {
			priceToTier[id] = tier
		}
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) (domain.Tier, bool) {
	tier, ok := s.priceToTier[priceID]
	return tier, ok
}
