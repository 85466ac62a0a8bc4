package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const getPromptInteraction = `-- name: GetPromptInteraction :one
SELECT id, user_id, trigger_type, variant_id, shown_at, outcome, resolved_at, snooze_until, supersedes
FROM prompt_interactions
WHERE id = $1
`

func (q *Queries) GetPromptInteraction(ctx context.Context, id uuid.UUID) (PromptInteraction, error) {
	row := q.db.QueryRowContext(ctx, getPromptInteraction, id)
	var i PromptInteraction
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.TriggerType,
		&i.VariantID,
		&i.ShownAt,
		&i.Outcome,
		&i.ResolvedAt,
		&i.SnoozeUntil,
		&i.Supersedes,
	)
	return i, err
}

const getLatestPromptInteraction = `-- name: GetLatestPromptInteraction :one
SELECT p.id, p.user_id, p.trigger_type, p.variant_id, p.shown_at, p.outcome, p.resolved_at, p.snooze_until, p.supersedes
FROM prompt_interactions p
WHERE p.user_id = $1 AND p.trigger_type = $2
  AND NOT EXISTS (
    SELECT 1 FROM prompt_interactions n
    WHERE n.user_id = p.user_id AND n.trigger_type = p.trigger_type AND n.supersedes = p.id
  )
ORDER BY p.shown_at DESC
LIMIT 1
`

type GetLatestPromptInteractionParams struct {
	UserID      uuid.UUID `json:"user_id"`
	TriggerType string    `json:"trigger_type"`
}

// GetLatestPromptInteraction returns the head of the (user, trigger) chain:
// the row no other row supersedes.
func (q *Queries) GetLatestPromptInteraction(ctx context.Context, arg GetLatestPromptInteractionParams) (PromptInteraction, error) {
	row := q.db.QueryRowContext(ctx, getLatestPromptInteraction, arg.UserID, arg.TriggerType)
	var i PromptInteraction
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.TriggerType,
		&i.VariantID,
		&i.ShownAt,
		&i.Outcome,
		&i.ResolvedAt,
		&i.SnoozeUntil,
		&i.Supersedes,
	)
	return i, err
}

const createPromptInteractionIfLatest = `-- name: CreatePromptInteractionIfLatest :execrows
INSERT INTO prompt_interactions (id, user_id, trigger_type, variant_id, shown_at, supersedes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, trigger_type, supersedes) DO NOTHING
`

type CreatePromptInteractionIfLatestParams struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	TriggerType string    `json:"trigger_type"`
	VariantID   string    `json:"variant_id"`
	ShownAt     time.Time `json:"shown_at"`
	Supersedes  uuid.UUID `json:"supersedes"`
}

// CreatePromptInteractionIfLatest inserts the row unless another interaction
// already follows Supersedes. Zero rows affected means the race was lost.
func (q *Queries) CreatePromptInteractionIfLatest(ctx context.Context, arg CreatePromptInteractionIfLatestParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, createPromptInteractionIfLatest,
		arg.ID,
		arg.UserID,
		arg.TriggerType,
		arg.VariantID,
		arg.ShownAt,
		arg.Supersedes,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const resolvePromptInteraction = `-- name: ResolvePromptInteraction :execrows
UPDATE prompt_interactions
SET outcome = $2, resolved_at = $3, snooze_until = $4
WHERE id = $1 AND outcome IS NULL
`

type ResolvePromptInteractionParams struct {
	ID          uuid.UUID      `json:"id"`
	Outcome     sql.NullString `json:"outcome"`
	ResolvedAt  sql.NullTime   `json:"resolved_at"`
	SnoozeUntil sql.NullTime   `json:"snooze_until"`
}

// ResolvePromptInteraction records the outcome only if none is stored yet.
func (q *Queries) ResolvePromptInteraction(ctx context.Context, arg ResolvePromptInteractionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, resolvePromptInteraction,
		arg.ID,
		arg.Outcome,
		arg.ResolvedAt,
		arg.SnoozeUntil,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteSupersededPromptInteractions = `-- name: DeleteSupersededPromptInteractions :execrows
DELETE FROM prompt_interactions p
WHERE p.shown_at < $1
  AND EXISTS (
    SELECT 1 FROM prompt_interactions n
    WHERE n.user_id = p.user_id AND n.trigger_type = p.trigger_type AND n.supersedes = p.id
  )
`

// DeleteSupersededPromptInteractions removes rows older than the cutoff that
// are no longer the head of their chain.
func (q *Queries) DeleteSupersededPromptInteractions(ctx context.Context, shownBefore time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSupersededPromptInteractions, shownBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
