package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const getUsageCounter = `-- name: GetUsageCounter :one
SELECT user_id, usage_type, period_start, count, limit_reached_at, updated_at
FROM usage_counters
WHERE user_id = $1 AND usage_type = $2 AND period_start = $3
`

type GetUsageCounterParams struct {
	UserID      uuid.UUID `json:"user_id"`
	UsageType   string    `json:"usage_type"`
	PeriodStart time.Time `json:"period_start"`
}

func (q *Queries) GetUsageCounter(ctx context.Context, arg GetUsageCounterParams) (UsageCounter, error) {
	row := q.db.QueryRowContext(ctx, getUsageCounter, arg.UserID, arg.UsageType, arg.PeriodStart)
	var i UsageCounter
	err := row.Scan(
		&i.UserID,
		&i.UsageType,
		&i.PeriodStart,
		&i.Count,
		&i.LimitReachedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const markLimitReached = `-- name: MarkLimitReached :one
INSERT INTO usage_counters (user_id, usage_type, period_start, limit_reached_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, usage_type, period_start) DO UPDATE
SET limit_reached_at = COALESCE(usage_counters.limit_reached_at, EXCLUDED.limit_reached_at)
RETURNING limit_reached_at
`

type MarkLimitReachedParams struct {
	UserID         uuid.UUID `json:"user_id"`
	UsageType      string    `json:"usage_type"`
	PeriodStart    time.Time `json:"period_start"`
	LimitReachedAt time.Time `json:"limit_reached_at"`
}

// MarkLimitReached stamps the grace anchor if it is unset and returns the
// stored value. Count is never modified.
func (q *Queries) MarkLimitReached(ctx context.Context, arg MarkLimitReachedParams) (time.Time, error) {
	row := q.db.QueryRowContext(ctx, markLimitReached,
		arg.UserID,
		arg.UsageType,
		arg.PeriodStart,
		arg.LimitReachedAt,
	)
	var limit_reached_at time.Time
	err := row.Scan(&limit_reached_at)
	return limit_reached_at, err
}

const incrementUsageCounter = `-- name: IncrementUsageCounter :one
INSERT INTO usage_counters (user_id, usage_type, period_start, count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, usage_type, period_start) DO UPDATE
SET count = usage_counters.count + EXCLUDED.count, updated_at = NOW()
RETURNING count
`

type IncrementUsageCounterParams struct {
	UserID      uuid.UUID `json:"user_id"`
	UsageType   string    `json:"usage_type"`
	PeriodStart time.Time `json:"period_start"`
	Count       int64     `json:"count"`
}

// IncrementUsageCounter is used by fixtures and the dev seeding path; in
// production the execution service owns writes.
func (q *Queries) IncrementUsageCounter(ctx context.Context, arg IncrementUsageCounterParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, incrementUsageCounter,
		arg.UserID,
		arg.UsageType,
		arg.PeriodStart,
		arg.Count,
	)
	var count int64
	err := row.Scan(&count)
	return count, err
}
