// This file implements the Stripe webhook handler that keeps subscriber
// tiers in sync with subscriptions.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no API key) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/sitegate/internal/billing"
	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/service"
)

// userIDMetadataKey is the subscription metadata key carrying our user id
// for customers the directory has not linked yet.
const userIDMetadataKey = "user_id"

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing     billing.Service
	subscribers service.SubscriberService
	logger      *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, subscribers service.SubscriberService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:     billingService,
		subscribers: subscribers,
		logger:      logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC — no API key middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Processing failures that a retry could fix (store errors) return 500 so
// Stripe redelivers; events that can never apply are acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.processSubscriptionEvent(r.Context(), event, false)
	case "customer.subscription.deleted":
		err = h.processSubscriptionEvent(r.Context(), event, true)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	if err != nil {
		h.logger.Error("failed to apply webhook event", "type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) processSubscriptionEvent(ctx context.Context, event stripe.Event, deleted bool) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "type", event.Type)
		return nil
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID, "type", event.Type)
		return nil
	}

	userID, err := h.resolveUser(ctx, sub)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		h.logger.Warn("subscriber not found for subscription event",
			"customer_id", sub.Customer.ID, "subscription_id", sub.ID, "type", event.Type)
		return nil
	}

	tier, ok := h.tierFor(sub, deleted)
	if !ok {
		h.logger.Warn("subscription price not mapped to a tier",
			"subscription_id", sub.ID, "status", sub.Status)
		return nil
	}

	_, err = h.subscribers.ApplyTierChange(ctx, domain.TierChange{
		UserID:           userID,
		Tier:             tier,
		StripeCustomerID: sub.Customer.ID,
		Source:           "stripe:" + string(event.Type),
	})
	if err != nil {
		return err
	}

	h.logger.Info("subscription event processed",
		"user_id", userID, "subscription_id", sub.ID, "status", sub.Status, "tier", tier)
	return nil
}

// resolveUser finds our user for a subscription: first by customer id, then
// by the user_id metadata set at checkout. Returns uuid.Nil when neither
// resolves.
func (h *WebhookHandler) resolveUser(ctx context.Context, sub stripe.Subscription) (uuid.UUID, error) {
	existing, err := h.subscribers.LookupByCustomer(ctx, sub.Customer.ID)
	switch {
	case err == nil:
		return existing.UserID, nil
	case !errors.Is(err, domain.ErrSubscriberNotFound):
		return uuid.Nil, err
	}

	if raw, ok := sub.Metadata[userIDMetadataKey]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			return id, nil
		}
		h.logger.Warn("subscription metadata has malformed user id", "subscription_id", sub.ID)
	}
	return uuid.Nil, nil
}

// tierFor maps a subscription to a tier. Deleted, canceled and unpaid
// subscriptions fall back to free.
func (h *WebhookHandler) tierFor(sub stripe.Subscription, deleted bool) (domain.Tier, bool) {
	if deleted {
		return domain.TierFree, true
	}
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return domain.TierFree, true
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return "", false
	}
	return h.billing.TierForPriceID(sub.Items.Data[0].Price.ID)
}
