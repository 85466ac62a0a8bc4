package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const createAccessAudit = `-- name: CreateAccessAudit :exec
INSERT INTO access_audit (id, user_id, reason, allowed, cause, details)
VALUES ($1, $2, $3, $4, $5, $6)
`

type CreateAccessAuditParams struct {
	ID      uuid.UUID             `json:"id"`
	UserID  uuid.NullUUID         `json:"user_id"`
	Reason  string                `json:"reason"`
	Allowed bool                  `json:"allowed"`
	Cause   string                `json:"cause"`
	Details pqtype.NullRawMessage `json:"details"`
}

func (q *Queries) CreateAccessAudit(ctx context.Context, arg CreateAccessAuditParams) error {
	_, err := q.db.ExecContext(ctx, createAccessAudit,
		arg.ID,
		arg.UserID,
		arg.Reason,
		arg.Allowed,
		arg.Cause,
		arg.Details,
	)
	return err
}

const listRecentAccessAudits = `-- name: ListRecentAccessAudits :many
SELECT id, user_id, reason, allowed, cause, details, created_at
FROM access_audit
ORDER BY created_at DESC
LIMIT $1
`

func (q *Queries) ListRecentAccessAudits(ctx context.Context, limit int32) ([]AccessAudit, error) {
	rows, err := q.db.QueryContext(ctx, listRecentAccessAudits, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccessAudit
	for rows.Next() {
		var i AccessAudit
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Reason,
			&i.Allowed,
			&i.Cause,
			&i.Details,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
