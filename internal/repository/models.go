package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type AccessAudit struct {
	ID        uuid.UUID             `json:"id"`
	UserID    uuid.NullUUID         `json:"user_id"`
	Reason    string                `json:"reason"`
	Allowed   bool                  `json:"allowed"`
	Cause     string                `json:"cause"`
	Details   pqtype.NullRawMessage `json:"details"`
	CreatedAt time.Time             `json:"created_at"`
}

type PromptInteraction struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	TriggerType string         `json:"trigger_type"`
	VariantID   string         `json:"variant_id"`
	ShownAt     time.Time      `json:"shown_at"`
	Outcome     sql.NullString `json:"outcome"`
	ResolvedAt  sql.NullTime   `json:"resolved_at"`
	SnoozeUntil sql.NullTime   `json:"snooze_until"`
	Supersedes  uuid.UUID      `json:"supersedes"`
}

type Subscriber struct {
	UserID           uuid.UUID      `json:"user_id"`
	Tier             string         `json:"tier"`
	StripeCustomerID sql.NullString `json:"stripe_customer_id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type UsageCounter struct {
	UserID         uuid.UUID    `json:"user_id"`
	UsageType      string       `json:"usage_type"`
	PeriodStart    time.Time    `json:"period_start"`
	Count          int64        `json:"count"`
	LimitReachedAt sql.NullTime `json:"limit_reached_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
