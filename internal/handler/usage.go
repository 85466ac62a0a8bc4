package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/catalog"
	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/service"
)

// EntitlementCatalog is the read side of the tier catalog used for summaries.
type EntitlementCatalog interface {
	Tiers() []domain.Tier
	UsageTypes() []domain.UsageType
	Entitlements(tier domain.Tier) (catalog.Entitlements, error)
	LimitFor(tier domain.Tier, usageType domain.UsageType) *int64
}

// EntitlementsResponse is the body of GET /v1/users/{id}/entitlements.
type EntitlementsResponse struct {
	UserID uuid.UUID `json:"userId"`
	catalog.Entitlements
	Usage []domain.UsageStatus `json:"usage"`
}

// TiersResponse is the body of GET /v1/tiers.
type TiersResponse struct {
	Tiers      []catalog.Entitlements `json:"tiers"`
	UsageTypes []domain.UsageType     `json:"usageTypes"`
}

// UsageHandler serves usage meters and entitlement summaries.
type UsageHandler struct {
	catalog     EntitlementCatalog
	quota       service.QuotaService
	subscribers service.SubscriberService
	thresholds  domain.Thresholds
	logger      *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(
	catalog EntitlementCatalog,
	quota service.QuotaService,
	subscribers service.SubscriberService,
	thresholds domain.Thresholds,
	logger *slog.Logger,
) *UsageHandler {
	return &UsageHandler{
		catalog:     catalog,
		quota:       quota,
		subscribers: subscribers,
		thresholds:  thresholds,
		logger:      logger,
	}
}

// RegisterRoutes registers usage and entitlement routes.
//
// Routes:
// - GET /v1/users/{id}/usage/{usageType} -> Usage
// - GET /v1/users/{id}/entitlements      -> Entitlements
// - GET /v1/tiers                        -> Tiers
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requireClient func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/users/{id}/usage/{usageType}", requireClient(http.HandlerFunc(h.Usage)))
	mux.Handle("GET /v1/users/{id}/entitlements", requireClient(http.HandlerFunc(h.Entitlements)))
	mux.Handle("GET /v1/tiers", requireClient(http.HandlerFunc(h.Tiers)))
}

// =============================================================================
// GET /v1/users/{id}/usage/{usageType}
// =============================================================================

// Usage returns the usage meter for one usage type. A counter store outage
// is reported as level "unknown" rather than an error so meters degrade.
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.usage"

	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	usageType := domain.UsageType(r.PathValue("usageType"))
	if !slices.Contains(h.catalog.UsageTypes(), usageType) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "unknown usage type"))
		return
	}

	status := h.quota.Evaluate(r.Context(), sub.UserID, usageType, h.catalog.LimitFor(sub.Tier, usageType), h.thresholds)
	writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// GET /v1/users/{id}/entitlements
// =============================================================================

// Entitlements returns the user's tier, features, limits and current usage.
func (h *UsageHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	const op = "handler.entitlements"

	sub, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	ent, err := h.catalog.Entitlements(sub.Tier)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "subscriber tier is not in the catalog"))
		return
	}

	resp := EntitlementsResponse{UserID: sub.UserID, Entitlements: ent}
	for _, u := range h.catalog.UsageTypes() {
		resp.Usage = append(resp.Usage, h.quota.Evaluate(r.Context(), sub.UserID, u, ent.Limits[u], h.thresholds))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// GET /v1/tiers
// =============================================================================

// Tiers returns the full tier matrix in ascending order.
func (h *UsageHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	const op = "handler.tiers"

	resp := TiersResponse{UsageTypes: h.catalog.UsageTypes()}
	for _, t := range h.catalog.Tiers() {
		ent, err := h.catalog.Entitlements(t)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to build tier matrix"))
			return
		}
		resp.Tiers = append(resp.Tiers, ent)
	}
	writeJSON(w, http.StatusOK, resp)
}

// subscriber resolves the {id} path value, writing the error response itself
// when it cannot.
func (h *UsageHandler) subscriber(w http.ResponseWriter, r *http.Request) (*domain.Subscriber, bool) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return nil, false
	}

	sub, err := h.subscribers.Lookup(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, domain.ErrSubscriberNotFound) {
			h.logger.Warn("Subscriber lookup failed", "user_id", userID, "error", err)
		}
		ErrorResponse(w, r, h.logger, err)
		return nil, false
	}
	return sub, true
}
