package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// TierPolicy is the read side of the tier catalog.
type TierPolicy interface {
	CompareTiers(a, b domain.Tier) (int, error)
	HasFeature(tier domain.Tier, feature domain.Feature) bool
	LowestTierWith(feature domain.Feature) (domain.Tier, bool)
	LimitFor(tier domain.Tier, usageType domain.UsageType) *int64
}

// UsageEvaluator is the part of QuotaService the engine depends on.
type UsageEvaluator interface {
	Evaluate(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, limit *int64, thresholds domain.Thresholds) domain.UsageStatus
	MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error)
}

// AuditRecorder persists decisions operators need to review.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// SubjectResolver turns a user id into a point-in-time subject.
type SubjectResolver interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*domain.Subscriber, error)
}

// AccessService answers whether a subject may use a feature right now.
//
// Check never returns an error: internal faults become an allowed decision
// with reason "fallback", which is logged, counted and audited.
type AccessService interface {
	// Check evaluates a requirement for an already resolved subject.
	Check(ctx context.Context, subject domain.Subject, req domain.FeatureRequirement) domain.AccessDecision

	// CheckUser resolves the subject first. A user the directory cannot
	// resolve is treated as unauthenticated.
	CheckUser(ctx context.Context, userID uuid.UUID, req domain.FeatureRequirement) domain.AccessDecision
}

// AccessConfig holds engine tuning.
type AccessConfig struct {
	// Thresholds apply when a requirement does not carry its own.
	Thresholds domain.Thresholds
}

// =============================================================================
// Implementation
// =============================================================================

var (
	errUsageTypeRequired = errors.New("usage type required when checking usage limit")
	errUnknownFeature    = errors.New("feature not granted by any tier")
)

type accessService struct {
	tiers    TierPolicy
	usage    UsageEvaluator
	subjects SubjectResolver
	audit    AuditRecorder
	config   AccessConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewAccessService creates a new AccessService. subjects and audit may be
// nil; without subjects CheckUser treats everyone as unauthenticated.
func NewAccessService(tiers TierPolicy, usage UsageEvaluator, subjects SubjectResolver, audit AuditRecorder, config AccessConfig, logger *slog.Logger) AccessService {
	if !config.Thresholds.Valid() {
		config.Thresholds = domain.DefaultThresholds()
	}
	return &accessService{
		tiers:    tiers,
		usage:    usage,
		subjects: subjects,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckUser resolves the subject and evaluates the requirement.
func (s *accessService) CheckUser(ctx context.Context, userID uuid.UUID, req domain.FeatureRequirement) domain.AccessDecision {
	subject := domain.Subject{UserID: userID}
	if s.subjects != nil && userID != uuid.Nil {
		sub, err := s.subjects.Lookup(ctx, userID)
		switch {
		case err == nil:
			subject = sub.Subject()
		case errors.Is(err, domain.ErrSubscriberNotFound):
			s.logger.Debug("Subscriber not found", "user_id", userID)
		default:
			s.logger.Warn("Subscriber lookup failed, treating as unauthenticated",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return s.Check(ctx, subject, req)
}

// Check runs the decision steps in order and converts any fault into the
// fallback decision.
func (s *accessService) Check(ctx context.Context, subject domain.Subject, req domain.FeatureRequirement) (decision domain.AccessDecision) {
	defer func() {
		if r := recover(); r != nil {
			decision = s.fallback(ctx, subject, req, nil, fmt.Errorf("panic: %v", r))
		}
		metrics.DecisionRecorded(decision)
	}()

	if !subject.Authenticated() {
		return domain.AccessDecision{
			Allowed: false,
			Reason:  domain.ReasonTier,
			Details: &domain.AccessDetails{RequiredAuth: true},
		}
	}

	d, err := s.decide(ctx, subject, req)
	if err != nil {
		return s.fallback(ctx, subject, req, nil, err)
	}
	return d
}

func (s *accessService) decide(ctx context.Context, subject domain.Subject, req domain.FeatureRequirement) (domain.AccessDecision, error) {
	cmp, err := s.tiers.CompareTiers(subject.Tier, req.RequiredTier)
	if err != nil {
		return domain.AccessDecision{}, fmt.Errorf("compare tiers: %w", err)
	}
	if cmp < 0 {
		return tierDenied(subject.Tier, req.RequiredTier, req.Feature), nil
	}

	if req.Feature != "" && !s.tiers.HasFeature(subject.Tier, req.Feature) {
		lowest, ok := s.tiers.LowestTierWith(req.Feature)
		if !ok {
			return domain.AccessDecision{}, fmt.Errorf("%w: %q", errUnknownFeature, req.Feature)
		}
		return tierDenied(subject.Tier, lowest, req.Feature), nil
	}

	if !req.CheckUsageLimit {
		return domain.AccessDecision{Allowed: true}, nil
	}
	if req.UsageType == "" {
		return domain.AccessDecision{}, errUsageTypeRequired
	}

	thresholds := s.config.Thresholds
	if req.Thresholds != nil && req.Thresholds.Valid() {
		thresholds = *req.Thresholds
	}

	limit := s.tiers.LimitFor(subject.Tier, req.UsageType)
	status := s.usage.Evaluate(ctx, subject.UserID, req.UsageType, limit, thresholds)

	if status.Level == domain.UsageLevelUnknown {
		return s.fallback(ctx, subject, req, &status, domain.ErrCounterStoreUnavailable), nil
	}

	if status.Unlimited() || !status.AtLimit() {
		return domain.AccessDecision{
			Allowed: true,
			Details: &domain.AccessDetails{CurrentTier: subject.Tier, Usage: &status},
		}, nil
	}

	if req.GracePeriodDays != nil && *req.GracePeriodDays > 0 {
		now := s.now()
		anchor, err := s.graceAnchor(ctx, subject.UserID, status, now)
		if err != nil {
			return domain.AccessDecision{}, err
		}
		status.LimitReachedAt = &anchor

		ends := anchor.AddDate(0, 0, *req.GracePeriodDays)
		if !now.Before(anchor) && now.Before(ends) {
			return domain.AccessDecision{
				Allowed: true,
				Reason:  domain.ReasonGracePeriod,
				Details: &domain.AccessDetails{CurrentTier: subject.Tier, Usage: &status, GraceEndsAt: &ends},
			}, nil
		}
	}

	return domain.AccessDecision{
		Allowed: req.SoftLimit,
		Reason:  domain.ReasonUsageLimit,
		Details: &domain.AccessDetails{CurrentTier: subject.Tier, Usage: &status},
	}, nil
}

// graceAnchor returns the first time the limit was observed as reached this
// period, stamping it now if the counter does not carry one yet.
func (s *accessService) graceAnchor(ctx context.Context, userID uuid.UUID, status domain.UsageStatus, now time.Time) (time.Time, error) {
	if status.LimitReachedAt != nil {
		return *status.LimitReachedAt, nil
	}
	anchor, err := s.usage.MarkLimitReached(ctx, userID, status.UsageType, status.PeriodStart, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("record grace anchor: %w", err)
	}
	return anchor, nil
}

func tierDenied(current, required domain.Tier, feature domain.Feature) domain.AccessDecision {
	return domain.AccessDecision{
		Allowed: false,
		Reason:  domain.ReasonTier,
		Details: &domain.AccessDetails{CurrentTier: current, RequiredTier: required, Feature: feature},
	}
}

// fallback builds the fail-open decision and makes sure it is visible to
// operators: an ERROR log line and an audit entry.
func (s *accessService) fallback(ctx context.Context, subject domain.Subject, req domain.FeatureRequirement, status *domain.UsageStatus, cause error) domain.AccessDecision {
	d := domain.Fallback()
	d.Details.Usage = status

	s.logger.Error("Access check failed open",
		"user_id", subject.UserID,
		"tier", subject.Tier,
		"required_tier", req.RequiredTier,
		"usage_type", req.UsageType,
		"error", cause,
	)
	s.recordAudit(ctx, domain.AuditEntry{
		ID:          uuid.New(),
		UserID:      subject.UserID,
		Requirement: req,
		Decision:    d,
		Cause:       cause.Error(),
		CreatedAt:   s.now(),
	})
	return d
}

func (s *accessService) recordAudit(ctx context.Context, entry domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.AuditWriteErrorsTotal.Inc()
			s.logger.Error("Audit recorder panicked", "panic", r)
		}
	}()
	if err := s.audit.Record(ctx, entry); err != nil {
		metrics.AuditWriteErrorsTotal.Inc()
		s.logger.Error("Failed to write access audit", "error", err)
	}
}
