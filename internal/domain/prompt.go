package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType names the situation that produced an upgrade nudge.
type TriggerType string

const (
	TriggerFeatureLocked TriggerType = "feature_locked"
	TriggerUsageWarning  TriggerType = "usage_warning"
	TriggerUsageLimit    TriggerType = "usage_limit"
	TriggerGracePeriod   TriggerType = "grace_period"
)

// Valid reports whether t is a known trigger.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerFeatureLocked, TriggerUsageWarning, TriggerUsageLimit, TriggerGracePeriod:
		return true
	}
	return false
}

// Outcome is how the user responded to a shown prompt.
type Outcome string

const (
	OutcomeClicked   Outcome = "clicked"
	OutcomeDismissed Outcome = "dismissed"
	OutcomeSnoozed   Outcome = "snoozed"
)

// ParseOutcome validates a raw outcome string.
func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(s); o {
	case OutcomeClicked, OutcomeDismissed, OutcomeSnoozed:
		return o, true
	}
	return "", false
}

// PromptInteraction is created when a prompt is shown and resolved at most once.
type PromptInteraction struct {
	ID          uuid.UUID   `json:"id"`
	UserID      uuid.UUID   `json:"userId"`
	TriggerType TriggerType `json:"triggerType"`
	VariantID   string      `json:"variantId"`
	ShownAt     time.Time   `json:"shownAt"`
	Outcome     *Outcome    `json:"outcome"`
	ResolvedAt  *time.Time  `json:"resolvedAt,omitempty"`
	SnoozeUntil *time.Time  `json:"snoozeUntil,omitempty"`
	// Supersedes is the interaction that was latest for this (user, trigger)
	// when this one was created; uuid.Nil for the first.
	Supersedes uuid.UUID `json:"-"`
}

// Resolved reports whether an outcome has been recorded.
func (p *PromptInteraction) Resolved() bool {
	return p.Outcome != nil
}

// UsageAlert is the usage context a variant is chosen for.
type UsageAlert string

const (
	UsageAlertNone     UsageAlert = "none"
	UsageAlertWarning  UsageAlert = "warning"
	UsageAlertCritical UsageAlert = "critical"
	UsageAlertExceeded UsageAlert = "exceeded"
)

// PromptSpec is the rendered variant returned to the UI.
type PromptSpec struct {
	VariantID           string `json:"variantId"`
	Title               string `json:"title"`
	Message             string `json:"message"`
	CTAText             string `json:"ctaText"`
	SecondaryCTAText    string `json:"secondaryCtaText"`
	Style               string `json:"style"`
	Position            string `json:"position"`
	DiscountPercentage  *int   `json:"discountPercentage,omitempty"`
	UrgencyTimerSeconds *int   `json:"urgencyTimer,omitempty"`
	TargetTier          Tier   `json:"targetTier,omitempty"`
}

// VariantQuery is the input to variant selection.
type VariantQuery struct {
	Trigger    TriggerType
	Tier       Tier
	UsageAlert UsageAlert
	Usage      *UsageStatus
	TargetTier Tier   // tier the nudge upsells to
	BucketKey  string // stable key for A/B bucketing
	Override   string // explicit variant id
}

// PromptRequest asks the orchestrator whether to nudge.
type PromptRequest struct {
	UserID          uuid.UUID
	Tier            Tier
	Trigger         TriggerType
	Decision        AccessDecision
	VariantOverride string
}

// SuppressReason explains why no prompt was shown.
type SuppressReason string

const (
	SuppressNotQualifying SuppressReason = "not_qualifying"
	SuppressSnoozed       SuppressReason = "snoozed"
	SuppressCooldown      SuppressReason = "cooldown"
	SuppressAlreadyShown  SuppressReason = "already_shown"
	SuppressNoVariant     SuppressReason = "no_variant"
	SuppressVariantError  SuppressReason = "variant_error"
	SuppressStoreError    SuppressReason = "store_error"
)

// PromptResult is either a shown prompt or a suppression.
type PromptResult struct {
	Show           bool               `json:"show"`
	SuppressReason SuppressReason     `json:"suppressReason,omitempty"`
	Interaction    *PromptInteraction `json:"interaction,omitempty"`
	Prompt         *PromptSpec        `json:"prompt,omitempty"`
}

// Suppress builds a suppressed result.
func Suppress(reason SuppressReason) PromptResult {
	return PromptResult{SuppressReason: reason}
}
