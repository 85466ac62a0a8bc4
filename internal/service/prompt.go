package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/metrics"
)

// Prompt timing defaults.
const (
	DefaultPromptCooldown   = 72 * time.Hour
	DefaultPromptPendingTTL = 24 * time.Hour
	DefaultPromptSnooze     = 24 * time.Hour
)

// =============================================================================
// Interface Definition
// =============================================================================

// InteractionStore persists prompt interactions.
type InteractionStore interface {
	// Latest returns nil, nil when the user has never seen this trigger.
	Latest(ctx context.Context, userID uuid.UUID, trigger domain.TriggerType) (*domain.PromptInteraction, error)

	// CreateIfLatest stores p only if p.Supersedes is still the latest
	// interaction id for (p.UserID, p.TriggerType).
	CreateIfLatest(ctx context.Context, p *domain.PromptInteraction) (bool, error)

	// Get returns domain.ErrInteractionNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*domain.PromptInteraction, error)

	// Resolve sets the outcome if none is set and returns the stored record.
	// applied is true only for the call that set the outcome.
	Resolve(ctx context.Context, id uuid.UUID, outcome domain.Outcome, resolvedAt time.Time, snoozeUntil *time.Time) (p *domain.PromptInteraction, applied bool, err error)

	// PruneSuperseded deletes non-latest interactions shown before the cutoff.
	PruneSuperseded(ctx context.Context, shownBefore time.Time) (int64, error)
}

// VariantProvider picks the prompt copy for a query. A nil spec means no
// variant is configured.
type VariantProvider interface {
	SelectVariant(ctx context.Context, q domain.VariantQuery) (*domain.PromptSpec, error)
}

// PromptService decides whether to nudge a user toward an upgrade and
// records how they responded.
type PromptService interface {
	// Evaluate returns a prompt to show or the reason it was suppressed.
	// It never fails; any fault suppresses.
	Evaluate(ctx context.Context, req domain.PromptRequest) domain.PromptResult

	// Resolve records the user's response. The first outcome wins; later
	// calls return the stored record unchanged.
	// Returns domain.EINVALID for an unknown outcome and domain.ENOTFOUND
	// for an unknown interaction.
	Resolve(ctx context.Context, id uuid.UUID, outcome string, snoozeFor time.Duration) (*domain.PromptInteraction, error)

	// Latest returns the most recent interaction for (user, trigger), or nil.
	Latest(ctx context.Context, userID uuid.UUID, trigger domain.TriggerType) (*domain.PromptInteraction, error)

	// PruneSuperseded removes superseded interactions older than retention.
	PruneSuperseded(ctx context.Context, retention time.Duration) (int64, error)
}

// PromptConfig holds throttling windows.
type PromptConfig struct {
	// Cooldown after a dismissal.
	Cooldown time.Duration

	// PendingTTL is how long an unanswered prompt blocks a new one.
	PendingTTL time.Duration

	// DefaultSnooze applies when a snooze does not name a duration.
	DefaultSnooze time.Duration
}

// DefaultPromptConfig returns the standard windows.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		Cooldown:      DefaultPromptCooldown,
		PendingTTL:    DefaultPromptPendingTTL,
		DefaultSnooze: DefaultPromptSnooze,
	}
}

// =============================================================================
// Implementation
// =============================================================================

type promptService struct {
	store    InteractionStore
	variants VariantProvider
	config   PromptConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewPromptService creates a new PromptService.
func NewPromptService(store InteractionStore, variants VariantProvider, config PromptConfig, logger *slog.Logger) PromptService {
	if config.DefaultSnooze <= 0 {
		config.DefaultSnooze = DefaultPromptSnooze
	}
	return &promptService{
		store:    store,
		variants: variants,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate walks Idle -> Shown for a qualifying decision.
func (s *promptService) Evaluate(ctx context.Context, req domain.PromptRequest) (result domain.PromptResult) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerFor(req.Decision)
	}
	defer func() { metrics.PromptEvaluated(trigger, result) }()

	if req.UserID == uuid.Nil || !Qualifies(req.Decision) || !trigger.Valid() {
		return domain.Suppress(domain.SuppressNotQualifying)
	}

	logger := s.logger.With("user_id", req.UserID, "trigger", trigger)
	now := s.now()

	latest, err := s.store.Latest(ctx, req.UserID, trigger)
	if err != nil {
		logger.Error("Failed to read latest prompt interaction", "error", err)
		return domain.Suppress(domain.SuppressStoreError)
	}
	if latest != nil {
		if reason := s.throttled(latest, now); reason != "" {
			logger.Debug("Prompt suppressed", "reason", reason, "interaction_id", latest.ID)
			return domain.Suppress(reason)
		}
	}

	q := domain.VariantQuery{
		Trigger:    trigger,
		Tier:       req.Tier,
		UsageAlert: AlertFor(req.Decision),
		TargetTier: targetTier(req.Tier, req.Decision),
		BucketKey:  req.UserID.String() + ":" + string(trigger),
		Override:   req.VariantOverride,
	}
	if req.Decision.Details != nil {
		q.Usage = req.Decision.Details.Usage
	}

	spec, err := s.variants.SelectVariant(ctx, q)
	switch {
	case errors.Is(err, domain.ErrVariantNotFound):
		logger.Warn("Variant override not found", "variant_id", req.VariantOverride)
		return domain.Suppress(domain.SuppressNoVariant)
	case err != nil:
		logger.Error("Variant lookup failed", "error", err)
		return domain.Suppress(domain.SuppressVariantError)
	case spec == nil:
		return domain.Suppress(domain.SuppressNoVariant)
	}

	p := &domain.PromptInteraction{
		ID:          uuid.New(),
		UserID:      req.UserID,
		TriggerType: trigger,
		VariantID:   spec.VariantID,
		ShownAt:     now,
	}
	if latest != nil {
		p.Supersedes = latest.ID
	}

	created, err := s.store.CreateIfLatest(ctx, p)
	if err != nil {
		logger.Error("Failed to create prompt interaction", "error", err)
		return domain.Suppress(domain.SuppressStoreError)
	}
	if !created {
		logger.Debug("Lost prompt race to a concurrent evaluation")
		return domain.Suppress(domain.SuppressAlreadyShown)
	}

	logger.Info("Prompt shown", "interaction_id", p.ID, "variant_id", spec.VariantID)
	return domain.PromptResult{Show: true, Interaction: p, Prompt: spec}
}

// throttled returns the suppression reason the latest interaction imposes, if any.
func (s *promptService) throttled(latest *domain.PromptInteraction, now time.Time) domain.SuppressReason {
	if !latest.Resolved() {
		if now.Before(latest.ShownAt.Add(s.config.PendingTTL)) {
			return domain.SuppressAlreadyShown
		}
		return ""
	}

	switch *latest.Outcome {
	case domain.OutcomeSnoozed:
		if latest.SnoozeUntil != nil && now.Before(*latest.SnoozeUntil) {
			return domain.SuppressSnoozed
		}
	case domain.OutcomeDismissed:
		if latest.ResolvedAt != nil && now.Before(latest.ResolvedAt.Add(s.config.Cooldown)) {
			return domain.SuppressCooldown
		}
	}
	return ""
}

// Resolve walks Shown -> Resolved.
func (s *promptService) Resolve(ctx context.Context, id uuid.UUID, outcome string, snoozeFor time.Duration) (*domain.PromptInteraction, error) {
	const op = "prompt.resolve"

	o, ok := domain.ParseOutcome(outcome)
	if !ok {
		return nil, domain.Invalid(op, "outcome must be one of clicked, dismissed, snoozed")
	}

	now := s.now()
	var snoozeUntil *time.Time
	if o == domain.OutcomeSnoozed {
		if snoozeFor <= 0 {
			snoozeFor = s.config.DefaultSnooze
		}
		t := now.Add(snoozeFor)
		snoozeUntil = &t
	}

	p, applied, err := s.store.Resolve(ctx, id, o, now, snoozeUntil)
	if errors.Is(err, domain.ErrInteractionNotFound) {
		return nil, domain.NotFound(op, "prompt interaction", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve prompt interaction")
	}

	if applied {
		metrics.PromptOutcomesTotal.WithLabelValues(p.VariantID, string(o)).Inc()
		s.logger.Info("Prompt resolved", "interaction_id", id, "outcome", o)
	} else {
		s.logger.Debug("Duplicate prompt resolution ignored",
			"interaction_id", id,
			"reported", o,
			"stored", *p.Outcome,
		)
	}
	return p, nil
}

// Latest returns the latest interaction for (user, trigger).
func (s *promptService) Latest(ctx context.Context, userID uuid.UUID, trigger domain.TriggerType) (*domain.PromptInteraction, error) {
	const op = "prompt.latest"

	if !trigger.Valid() {
		return nil, domain.Invalid(op, "unknown trigger")
	}
	p, err := s.store.Latest(ctx, userID, trigger)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read prompt interaction")
	}
	return p, nil
}

// PruneSuperseded removes superseded interactions older than retention.
func (s *promptService) PruneSuperseded(ctx context.Context, retention time.Duration) (int64, error) {
	const op = "prompt.prune"

	n, err := s.store.PruneSuperseded(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, domain.Internal(err, op, "failed to prune prompt interactions")
	}
	return n, nil
}

// =============================================================================
// Decision helpers
// =============================================================================

// Qualifies reports whether a decision warrants a nudge: a denial, a flagged
// allow, or an allow whose usage is in the warning or critical band.
// Fail-open decisions and unauthenticated denials never qualify.
func Qualifies(d domain.AccessDecision) bool {
	if d.Details != nil && d.Details.RequiredAuth {
		return false
	}
	switch d.Reason {
	case domain.ReasonFallback:
		return false
	case domain.ReasonTier, domain.ReasonUsageLimit, domain.ReasonGracePeriod:
		return true
	}
	if !d.Allowed {
		return true
	}
	lvl := d.UsageLevel()
	return lvl == domain.UsageLevelWarning || lvl == domain.UsageLevelCritical
}

// TriggerFor maps a decision to the trigger it would fire.
func TriggerFor(d domain.AccessDecision) domain.TriggerType {
	switch d.Reason {
	case domain.ReasonTier:
		return domain.TriggerFeatureLocked
	case domain.ReasonUsageLimit:
		return domain.TriggerUsageLimit
	case domain.ReasonGracePeriod:
		return domain.TriggerGracePeriod
	}
	switch d.UsageLevel() {
	case domain.UsageLevelWarning, domain.UsageLevelCritical:
		return domain.TriggerUsageWarning
	}
	return ""
}

// AlertFor classifies the usage context of a decision for variant selection.
func AlertFor(d domain.AccessDecision) domain.UsageAlert {
	switch d.Reason {
	case domain.ReasonUsageLimit, domain.ReasonGracePeriod:
		return domain.UsageAlertExceeded
	}
	switch d.UsageLevel() {
	case domain.UsageLevelCritical:
		return domain.UsageAlertCritical
	case domain.UsageLevelWarning:
		return domain.UsageAlertWarning
	}
	return domain.UsageAlertNone
}

// targetTier is the tier a nudge sells: the tier a locked feature needs,
// otherwise the next tier up. Custom-pricing tiers stay where they are.
func targetTier(current domain.Tier, d domain.AccessDecision) domain.Tier {
	if d.Details != nil && d.Details.RequiredTier != "" && d.Details.RequiredTier.Rank() > current.Rank() {
		return d.Details.RequiredTier
	}
	if current.HasCustomPricing() {
		return current
	}
	if next, ok := current.Next(); ok {
		return next
	}
	return current
}
