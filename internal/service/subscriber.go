package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriberStore reads and writes identity and tier facts.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, userID uuid.UUID) (*domain.Subscriber, error)
	GetSubscriberByCustomer(ctx context.Context, customerID string) (*domain.Subscriber, error)
	UpsertTier(ctx context.Context, change domain.TierChange) (*domain.Subscriber, error)
}

// SubscriberService is the directory of users and their current tier.
//
// Tier is a point-in-time read. The engine never changes a tier on its own;
// changes arrive from the billing provider through ApplyTierChange.
type SubscriberService interface {
	// Lookup returns domain.ENOTFOUND (wrapping domain.ErrSubscriberNotFound)
	// for unknown users.
	Lookup(ctx context.Context, userID uuid.UUID) (*domain.Subscriber, error)

	// LookupByCustomer finds a subscriber by billing customer id.
	LookupByCustomer(ctx context.Context, customerID string) (*domain.Subscriber, error)

	// ApplyTierChange records a tier delivered by the billing provider.
	// Returns domain.EINVALID for an unknown tier or missing user id.
	ApplyTierChange(ctx context.Context, change domain.TierChange) (*domain.Subscriber, error)
}

// =============================================================================
// Implementation
// =============================================================================

type subscriberService struct {
	store  SubscriberStore
	logger *slog.Logger
}

// NewSubscriberService creates a new SubscriberService.
func NewSubscriberService(store SubscriberStore, logger *slog.Logger) SubscriberService {
	return &subscriberService{
		store:  store,
		logger: logger,
	}
}

// Lookup returns the subscriber for a user id.
func (s *subscriberService) Lookup(ctx context.Context, userID uuid.UUID) (*domain.Subscriber, error) {
	const op = "subscriber.lookup"

	sub, err := s.store.GetSubscriber(ctx, userID)
	if err != nil {
		return nil, translateSubscriberError(err, op, userID.String())
	}
	return sub, nil
}

// LookupByCustomer returns the subscriber for a billing customer id.
func (s *subscriberService) LookupByCustomer(ctx context.Context, customerID string) (*domain.Subscriber, error) {
	const op = "subscriber.lookup_by_customer"

	if customerID == "" {
		return nil, domain.Invalid(op, "customer id is required")
	}
	sub, err := s.store.GetSubscriberByCustomer(ctx, customerID)
	if err != nil {
		return nil, translateSubscriberError(err, op, customerID)
	}
	return sub, nil
}

// ApplyTierChange validates and stores a tier change.
func (s *subscriberService) ApplyTierChange(ctx context.Context, change domain.TierChange) (*domain.Subscriber, error) {
	const op = "subscriber.apply_tier_change"

	if change.UserID == uuid.Nil {
		return nil, domain.Invalid(op, "user id is required")
	}
	tier, err := domain.ParseTier(string(change.Tier))
	if err != nil {
		return nil, domain.Invalid(op, err.Error())
	}
	change.Tier = tier

	sub, err := s.store.UpsertTier(ctx, change)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update subscriber tier")
	}

	metrics.TierChangesTotal.WithLabelValues(string(tier)).Inc()
	s.logger.Info("Subscriber tier changed",
		"user_id", change.UserID,
		"tier", tier,
		"source", change.Source,
	)
	return sub, nil
}

func translateSubscriberError(err error, op, id string) error {
	if errors.Is(err, domain.ErrSubscriberNotFound) {
		e := domain.NotFound(op, "subscriber", id)
		e.Err = err
		return e
	}
	return domain.Internal(err, op, "failed to read subscriber")
}
