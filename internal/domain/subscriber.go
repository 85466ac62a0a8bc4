// Package domain contains core business types and interfaces.
//
// This file defines the Subscriber type: the identity and billing facts the
// engine reads. These types are separate from the repository models so the
// database layer stays decoupled from business logic.
package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Subscriber is a point-in-time read of a user's identity and current tier.
// The engine never mutates tier on its own; changes arrive from the billing provider.
type Subscriber struct {
	UserID           uuid.UUID
	Tier             Tier
	StripeCustomerID string
	UpdatedAt        time.Time
}

// Subject converts the subscriber into an access-check subject.
func (s *Subscriber) Subject() Subject {
	if s == nil {
		return Subject{}
	}
	return Subject{UserID: s.UserID, Tier: s.Tier}
}

// TierChange is a tier update delivered by the billing provider.
type TierChange struct {
	UserID           uuid.UUID
	Tier             Tier
	StripeCustomerID string
	Source           string // e.g. "stripe:customer.subscription.updated"
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// NullTime converts a time pointer to sql.NullTime.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
