package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const getSubscriber = `-- name: GetSubscriber :one
SELECT user_id, tier, stripe_customer_id, created_at, updated_at
FROM subscribers
WHERE user_id = $1
`

func (q *Queries) GetSubscriber(ctx context.Context, userID uuid.UUID) (Subscriber, error) {
	row := q.db.QueryRowContext(ctx, getSubscriber, userID)
	var i Subscriber
	err := row.Scan(
		&i.UserID,
		&i.Tier,
		&i.StripeCustomerID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getSubscriberByStripeCustomerID = `-- name: GetSubscriberByStripeCustomerID :one
SELECT user_id, tier, stripe_customer_id, created_at, updated_at
FROM subscribers
WHERE stripe_customer_id = $1
`

func (q *Queries) GetSubscriberByStripeCustomerID(ctx context.Context, stripeCustomerID sql.NullString) (Subscriber, error) {
	row := q.db.QueryRowContext(ctx, getSubscriberByStripeCustomerID, stripeCustomerID)
	var i Subscriber
	err := row.Scan(
		&i.UserID,
		&i.Tier,
		&i.StripeCustomerID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertSubscriberTier = `-- name: UpsertSubscriberTier :one
INSERT INTO subscribers (user_id, tier, stripe_customer_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET tier = EXCLUDED.tier,
    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscribers.stripe_customer_id),
    updated_at = NOW()
RETURNING user_id, tier, stripe_customer_id, created_at, updated_at
`

type UpsertSubscriberTierParams struct {
	UserID           uuid.UUID      `json:"user_id"`
	Tier             string         `json:"tier"`
	StripeCustomerID sql.NullString `json:"stripe_customer_id"`
}

func (q *Queries) UpsertSubscriberTier(ctx context.Context, arg UpsertSubscriberTierParams) (Subscriber, error) {
	row := q.db.QueryRowContext(ctx, upsertSubscriberTier, arg.UserID, arg.Tier, arg.StripeCustomerID)
	var i Subscriber
	err := row.Scan(
		&i.UserID,
		&i.Tier,
		&i.StripeCustomerID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
