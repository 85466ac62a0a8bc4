// Package handler contains the HTTP handlers for the sitegate JSON API.
//
// This file implements the access-check endpoint product services call
// before running a gated feature.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/service"
)

// =============================================================================
// Request Types
// =============================================================================

// AccessCheckRequest is the body of POST /v1/access-check.
//
// Tier is optional. When set, the caller vouches for the subject's tier and
// the directory lookup is skipped.
type AccessCheckRequest struct {
	UserID string      `json:"userId"`
	Tier   domain.Tier `json:"tier,omitempty"`
	domain.FeatureRequirement
}

// =============================================================================
// Handler Configuration
// =============================================================================

// AccessHandler serves access decisions.
type AccessHandler struct {
	access service.AccessService
	logger *slog.Logger
}

// NewAccessHandler creates a new AccessHandler.
func NewAccessHandler(access service.AccessService, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{
		access: access,
		logger: logger,
	}
}

// RegisterRoutes registers access routes.
//
// Routes:
// - POST /v1/access-check -> Check
func (h *AccessHandler) RegisterRoutes(mux *http.ServeMux, requireClient func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/access-check", requireClient(http.HandlerFunc(h.Check)))
}

// =============================================================================
// POST /v1/access-check
// =============================================================================

// Check evaluates a feature requirement. The response is always 200 once the
// request validates: denials and fail-open fallbacks are decisions, not errors.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	const op = "handler.access_check"

	var req AccessCheckRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	userID, err := parseOptionalUUID(req.UserID)
	if err != nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "userId", "userId must be a UUID"))
		return
	}

	req.RequiredTier, err = domain.ParseTier(string(req.RequiredTier))
	if err != nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "requiredTier", "requiredTier must be a known tier"))
		return
	}
	if req.Tier != "" {
		req.Tier, err = domain.ParseTier(string(req.Tier))
		if err != nil {
			ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "tier", "tier must be a known tier"))
			return
		}
	}

	var decision domain.AccessDecision
	if req.Tier != "" {
		decision = h.access.Check(r.Context(), domain.Subject{UserID: userID, Tier: req.Tier}, req.FeatureRequirement)
	} else {
		decision = h.access.CheckUser(r.Context(), userID, req.FeatureRequirement)
	}

	writeJSON(w, http.StatusOK, decision)
}

// parseOptionalUUID parses s, mapping the empty string to uuid.Nil.
func parseOptionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
