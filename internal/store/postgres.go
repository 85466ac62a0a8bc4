package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/sitegate/internal/domain"
	"github.com/DukeRupert/sitegate/internal/repository"
)

// =============================================================================
// Usage Counters
// =============================================================================

// PostgresCounters reads the usage_counters table.
type PostgresCounters struct {
	queries *repository.Queries
}

// NewPostgresCounters creates a counter store over queries.
func NewPostgresCounters(queries *repository.Queries) *PostgresCounters {
	return &PostgresCounters{queries: queries}
}

// GetCounter returns the counter for the period, or nil if no row exists.
func (s *PostgresCounters) GetCounter(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart time.Time) (*domain.UsageCounter, error) {
	row, err := s.queries.GetUsageCounter(ctx, repository.GetUsageCounterParams{
		UserID:      userID,
		UsageType:   string(usageType),
		PeriodStart: periodStart.UTC(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("postgres get counter", err)
	}
	return &domain.UsageCounter{
		UserID:         row.UserID,
		UsageType:      domain.UsageType(row.UsageType),
		PeriodStart:    row.PeriodStart,
		Count:          row.Count,
		LimitReachedAt: domain.NullTimeValue(row.LimitReachedAt),
	}, nil
}

// MarkLimitReached stamps the grace anchor once and returns the stored value.
func (s *PostgresCounters) MarkLimitReached(ctx context.Context, userID uuid.UUID, usageType domain.UsageType, periodStart, at time.Time) (time.Time, error) {
	anchor, err := s.queries.MarkLimitReached(ctx, repository.MarkLimitReachedParams{
		UserID:         userID,
		UsageType:      string(usageType),
		PeriodStart:    periodStart.UTC(),
		LimitReachedAt: at,
	})
	if err != nil {
		return time.Time{}, unavailable("postgres mark limit reached", err)
	}
	return anchor, nil
}

// =============================================================================
// Prompt Interactions
// =============================================================================

// PostgresInteractions stores prompt interactions in prompt_interactions.
type PostgresInteractions struct {
	queries *repository.Queries
}

// NewPostgresInteractions creates an interaction store over queries.
func NewPostgresInteractions(queries *repository.Queries) *PostgresInteractions {
	return &PostgresInteractions{queries: queries}
}

// Latest returns the head of the (user, trigger) chain, or nil.
func (s *PostgresInteractions) Latest(ctx context.Context, userID uuid.UUID, trigger domain.TriggerType) (*domain.PromptInteraction, error) {
	row, err := s.queries.GetLatestPromptInteraction(ctx, repository.GetLatestPromptInteractionParams{
		UserID:      userID,
		TriggerType: string(trigger),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest prompt interaction: %w", err)
	}
	return interactionFromRow(row), nil
}

// CreateIfLatest inserts p unless another interaction already supersedes
// p.Supersedes. The unique chain index makes this a single statement.
func (s *PostgresInteractions) CreateIfLatest(ctx context.Context, p *domain.PromptInteraction) (bool, error) {
	n, err := s.queries.CreatePromptInteractionIfLatest(ctx, repository.CreatePromptInteractionIfLatestParams{
		ID:          p.ID,
		UserID:      p.UserID,
		TriggerType: string(p.TriggerType),
		VariantID:   p.VariantID,
		ShownAt:     p.ShownAt,
		Supersedes:  p.Supersedes,
	})
	if err != nil {
		return false, fmt.Errorf("create prompt interaction: %w", err)
	}
	return n == 1, nil
}

// Get returns an interaction by id.
func (s *PostgresInteractions) Get(ctx context.Context, id uuid.UUID) (*domain.PromptInteraction, error) {
	row, err := s.queries.GetPromptInteraction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInteractionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt interaction: %w", err)
	}
	return interactionFromRow(row), nil
}

// Resolve records the outcome if none is stored and returns the stored record.
func (s *PostgresInteractions) Resolve(ctx context.Context, id uuid.UUID, outcome domain.Outcome, resolvedAt time.Time, snoozeUntil *time.Time) (*domain.PromptInteraction, bool, error) {
	n, err := s.queries.ResolvePromptInteraction(ctx, repository.ResolvePromptInteractionParams{
		ID:          id,
		Outcome:     sql.NullString{String: string(outcome), Valid: true},
		ResolvedAt:  sql.NullTime{Time: resolvedAt, Valid: true},
		SnoozeUntil: domain.NullTime(snoozeUntil),
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve prompt interaction: %w", err)
	}
	// Zero rows means unknown id or already resolved; the read tells which.
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return p, n == 1, nil
}

// PruneSuperseded deletes superseded interactions shown before the cutoff.
func (s *PostgresInteractions) PruneSuperseded(ctx context.Context, shownBefore time.Time) (int64, error) {
	n, err := s.queries.DeleteSupersededPromptInteractions(ctx, shownBefore)
	if err != nil {
		return 0, fmt.Errorf("prune prompt interactions: %w", err)
	}
	return n, nil
}

func interactionFromRow(row repository.PromptInteraction) *domain.PromptInteraction {
	p := &domain.PromptInteraction{
		ID:          row.ID,
		UserID:      row.UserID,
		TriggerType: domain.TriggerType(row.TriggerType),
		VariantID:   row.VariantID,
		ShownAt:     row.ShownAt,
		ResolvedAt:  domain.NullTimeValue(row.ResolvedAt),
		SnoozeUntil: domain.NullTimeValue(row.SnoozeUntil),
		Supersedes:  row.Supersedes,
	}
	if row.Outcome.Valid {
		o := domain.Outcome(row.Outcome.String)
		p.Outcome = &o
	}
	return p
}

// =============================================================================
// Subscribers
// =============================================================================

// PostgresSubscribers reads and updates the subscribers table.
type PostgresSubscribers struct {
	queries *repository.Queries
}

// NewPostgresSubscribers creates a subscriber store over queries.
func NewPostgresSubscribers(queries *repository.Queries) *PostgresSubscribers {
	return &PostgresSubscribers{queries: queries}
}

// GetSubscriber returns the subscriber or domain.ErrSubscriberNotFound.
func (s *PostgresSubscribers) GetSubscriber(ctx context.Context, userID uuid.UUID) (*domain.Subscriber, error) {
	row, err := s.queries.GetSubscriber(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return subscriberFromRow(row), nil
}

// GetSubscriberByCustomer finds a subscriber by Stripe customer id.
func (s *PostgresSubscribers) GetSubscriberByCustomer(ctx context.Context, customerID string) (*domain.Subscriber, error) {
	row, err := s.queries.GetSubscriberByStripeCustomerID(ctx, sql.NullString{String: customerID, Valid: customerID != ""})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber by customer: %w", err)
	}
	return subscriberFromRow(row), nil
}

// UpsertTier applies a tier change.
func (s *PostgresSubscribers) UpsertTier(ctx context.Context, change domain.TierChange) (*domain.Subscriber, error) {
	row, err := s.queries.UpsertSubscriberTier(ctx, repository.UpsertSubscriberTierParams{
		UserID:           change.UserID,
		Tier:             string(change.Tier),
		StripeCustomerID: sql.NullString{String: change.StripeCustomerID, Valid: change.StripeCustomerID != ""},
	})
	if err != nil {
		return nil, fmt.Errorf("upsert subscriber tier: %w", err)
	}
	return subscriberFromRow(row), nil
}

// Tiers are stored as text; an unrecognised value is passed through and
// rejected by Subject.Authenticated.
func subscriberFromRow(row repository.Subscriber) *domain.Subscriber {
	return &domain.Subscriber{
		UserID:           row.UserID,
		Tier:             domain.Tier(row.Tier),
		StripeCustomerID: domain.NullStringValue(row.StripeCustomerID),
		UpdatedAt:        row.UpdatedAt,
	}
}

// =============================================================================
// Audit
// =============================================================================

// PostgresAudit writes audit entries to access_audit.
type PostgresAudit struct {
	queries *repository.Queries
}

// NewPostgresAudit creates an audit recorder over queries.
func NewPostgresAudit(queries *repository.Queries) *PostgresAudit {
	return &PostgresAudit{queries: queries}
}

type auditDetails struct {
	Requirement domain.FeatureRequirement `json:"requirement"`
	Decision    domain.AccessDecision     `json:"decision"`
}

// Record inserts an entry. The requirement and decision are kept as JSONB.
func (s *PostgresAudit) Record(ctx context.Context, e domain.AuditEntry) error {
	raw, err := json.Marshal(auditDetails{Requirement: e.Requirement, Decision: e.Decision})
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	err = s.queries.CreateAccessAudit(ctx, repository.CreateAccessAuditParams{
		ID:      id,
		UserID:  uuid.NullUUID{UUID: e.UserID, Valid: e.UserID != uuid.Nil},
		Reason:  string(e.Decision.Reason),
		Allowed: e.Decision.Allowed,
		Cause:   e.Cause,
		Details: pqtype.NullRawMessage{RawMessage: raw, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("create access audit: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *PostgresAudit) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.queries.ListRecentAccessAudits(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list access audits: %w", err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		e := domain.AuditEntry{
			ID:        row.ID,
			UserID:    row.UserID.UUID,
			Cause:     row.Cause,
			CreatedAt: row.CreatedAt,
			Decision:  domain.AccessDecision{Allowed: row.Allowed, Reason: domain.Reason(row.Reason)},
		}
		if row.Details.Valid {
			var d auditDetails
			if err := json.Unmarshal(row.Details.RawMessage, &d); err == nil {
				e.Requirement = d.Requirement
				e.Decision = d.Decision
			}
		}
		out = append(out, e)
	}
	return out, nil
}
