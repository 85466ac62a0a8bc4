package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/service"
)

// EvaluatePromptRequest is the body of POST /v1/prompts/evaluate.
type EvaluatePromptRequest struct {
	UserID    string                `json:"userId"`
	Trigger   domain.TriggerType    `json:"trigger,omitempty"`
	Decision  domain.AccessDecision `json:"decision"`
	VariantID string                `json:"variantId,omitempty"`
}

// ResolvePromptRequest is the body of POST /v1/prompts/{id}/resolve.
type ResolvePromptRequest struct {
	Outcome       string `json:"outcome"`
	SnoozeSeconds int64  `json:"snoozeSeconds,omitempty"`
}

// maxSnoozeSeconds caps a requested snooze at one year.
const maxSnoozeSeconds = 366 * 24 * 60 * 60

// PromptHandler serves upgrade-prompt evaluation and resolution.
type PromptHandler struct {
	prompts     service.PromptService
	subscribers service.SubjectResolver
	logger      *slog.Logger
}

// NewPromptHandler creates a new PromptHandler. subscribers may be nil, in
// which case the tier is taken from the decision details.
func NewPromptHandler(prompts service.PromptService, subscribers service.SubjectResolver, logger *slog.Logger) *PromptHandler {
	return &PromptHandler{
		prompts:     prompts,
		subscribers: subscribers,
		logger:      logger,
	}
}

// RegisterRoutes registers prompt routes.
//
// Routes:
// - POST /v1/prompts/evaluate                     -> Evaluate
// - POST /v1/prompts/{id}/resolve                 -> Resolve
// - GET  /v1/users/{id}/prompts/{trigger}/latest  -> Latest
func (h *PromptHandler) RegisterRoutes(mux *http.ServeMux, requireClient func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/prompts/evaluate", requireClient(http.HandlerFunc(h.Evaluate)))
	mux.Handle("POST /v1/prompts/{id}/resolve", requireClient(http.HandlerFunc(h.Resolve)))
	mux.Handle("GET /v1/users/{id}/prompts/{trigger}/latest", requireClient(http.HandlerFunc(h.Latest)))
}

// =============================================================================
// POST /v1/prompts/evaluate
// =============================================================================

// Evaluate decides whether to show an upgrade prompt for a decision the
// caller obtained from /v1/access-check.
func (h *PromptHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	const op = "handler.prompt_evaluate"

	var req EvaluatePromptRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "userId", "userId must be a UUID"))
		return
	}
	if req.Trigger != "" && !req.Trigger.Valid() {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "trigger", "unknown trigger"))
		return
	}

	result := h.prompts.Evaluate(r.Context(), domain.PromptRequest{
		UserID:          userID,
		Tier:            h.tierFor(r, userID, req.Decision),
		Trigger:         req.Trigger,
		Decision:        req.Decision,
		VariantOverride: req.VariantID,
	})
	writeJSON(w, http.StatusOK, result)
}

// tierFor prefers the directory's tier over the one echoed in the decision.
func (h *PromptHandler) tierFor(r *http.Request, userID uuid.UUID, d domain.AccessDecision) domain.Tier {
	if h.subscribers != nil {
		sub, err := h.subscribers.Lookup(r.Context(), userID)
		if err == nil {
			return sub.Tier
		}
		h.logger.Debug("Subscriber lookup failed for prompt", "user_id", userID, "error", err)
	}
	if d.Details != nil {
		return d.Details.CurrentTier
	}
	return ""
}

// =============================================================================
// POST /v1/prompts/{id}/resolve
// =============================================================================

// Resolve records clicked, dismissed or snoozed for a shown prompt.
func (h *PromptHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	const op = "handler.prompt_resolve"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	var req ResolvePromptRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.SnoozeSeconds < 0 || req.SnoozeSeconds > maxSnoozeSeconds {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "snoozeSeconds", "snoozeSeconds must be between 0 and one year"))
		return
	}

	p, err := h.prompts.Resolve(r.Context(), id, req.Outcome, time.Duration(req.SnoozeSeconds)*time.Second)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// GET /v1/users/{id}/prompts/{trigger}/latest
// =============================================================================

// Latest returns the most recent interaction for a user and trigger, or 404.
func (h *PromptHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	p, err := h.prompts.Latest(r.Context(), userID, domain.TriggerType(r.PathValue("trigger")))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if p == nil {
		NotFoundResponse(w, r, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
