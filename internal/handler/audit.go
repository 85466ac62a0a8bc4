package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditReader lists recorded fail-open decisions, newest first.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// AuditEntryResponse is one entry of GET /v1/audit.
type AuditEntryResponse struct {
	ID          uuid.UUID                 `json:"id"`
	UserID      *uuid.UUID                `json:"userId,omitempty"`
	Requirement domain.FeatureRequirement `json:"requirement"`
	Decision    domain.AccessDecision     `json:"decision"`
	Cause       string                    `json:"cause"`
	CreatedAt   time.Time                 `json:"createdAt"`
}

// AuditHandler exposes the fallback audit trail to operators.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// RegisterRoutes registers audit routes.
//
// Routes:
// - GET /v1/audit?limit=N -> List
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, requireClient func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/audit", requireClient(http.HandlerFunc(h.List)))
}

// List returns recent audit entries.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handler.audit_list"

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to read audit trail"))
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := AuditEntryResponse{
			ID:          e.ID,
			Requirement: e.Requirement,
			Decision:    e.Decision,
			Cause:       e.Cause,
			CreatedAt:   e.CreatedAt,
		}
		if e.UserID != uuid.Nil {
			id := e.UserID
			item.UserID = &id
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
