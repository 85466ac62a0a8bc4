package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reason explains why a decision was denied or flagged. Empty means a plain allow.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTier        Reason = "tier"
	ReasonUsageLimit  Reason = "usage_limit"
	ReasonGracePeriod Reason = "grace_period"
	ReasonFallback    Reason = "fallback"
)

// Subject is the caller being evaluated: a point-in-time read of identity and tier.
type Subject struct {
	UserID uuid.UUID
	Tier   Tier
}

// Authenticated reports whether the subject has a resolvable identity and tier.
func (s Subject) Authenticated() bool {
	return s.UserID != uuid.Nil && s.Tier.Valid()
}

// FeatureRequirement describes what a caller wants to do.
type FeatureRequirement struct {
	RequiredTier    Tier        `json:"requiredTier"`
	Feature         Feature     `json:"feature,omitempty"`
	UsageType       UsageType   `json:"usageType,omitempty"`
	CheckUsageLimit bool        `json:"checkUsageLimit"`
	GracePeriodDays *int        `json:"gracePeriodDays,omitempty"`
	SoftLimit       bool        `json:"softLimit,omitempty"`
	Thresholds      *Thresholds `json:"thresholds,omitempty"`
}

// AccessDetails carries what the caller needs to render a specific message.
type AccessDetails struct {
	RequiredAuth   bool         `json:"requiredAuth,omitempty"`
	CurrentTier    Tier         `json:"currentTier,omitempty"`
	RequiredTier   Tier         `json:"requiredTier,omitempty"`
	Feature        Feature      `json:"feature,omitempty"`
	Usage          *UsageStatus `json:"usage,omitempty"`
	GraceEndsAt    *time.Time   `json:"graceEndsAt,omitempty"`
	FallbackAccess bool         `json:"fallbackAccess,omitempty"`
}

// AccessDecision is the result of an access check. It is computed fresh per
// evaluation and never persisted.
type AccessDecision struct {
	Allowed bool           `json:"allowed"`
	Reason  Reason         `json:"reason"`
	Details *AccessDetails `json:"details,omitempty"`
}

// UsageLevel returns the usage level carried by the decision, if any.
func (d AccessDecision) UsageLevel() UsageLevel {
	if d.Details == nil || d.Details.Usage == nil {
		return ""
	}
	return d.Details.Usage.Level
}

// Fallback builds the fail-open decision.
func Fallback() AccessDecision {
	return AccessDecision{
		Allowed: true,
		Reason:  ReasonFallback,
		Details: &AccessDetails{FallbackAccess: true},
	}
}

// AuditEntry records a decision that operators must be able to review.
type AuditEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Requirement FeatureRequirement
	Decision    AccessDecision
	Cause       string
	CreatedAt   time.Time
}
