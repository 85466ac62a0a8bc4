// Package domain contains core business types and interfaces.
//
// This file defines usage types, counters and the usage status reported by
// the quota tracker.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UsageType identifies a category of rate-limited action.
type UsageType string

const (
	UsageTypeScan       UsageType = "scan"
	UsageTypeLighthouse UsageType = "lighthouse"
	UsageTypeScreenshot UsageType = "screenshot"
	UsageTypeLogCapture UsageType = "log_capture"
)

// Feature is a flag gated by tier.
type Feature string

// UsageLevel classifies how close a user is to their limit.
type UsageLevel string

const (
	UsageLevelOK       UsageLevel = "ok"
	UsageLevelWarning  UsageLevel = "warning"
	UsageLevelCritical UsageLevel = "critical"
	// UsageLevelUnknown means the counter store could not be read.
	UsageLevelUnknown UsageLevel = "unknown"
)

// Default threshold percentages.
const (
	DefaultWarningThreshold  = 75.0
	DefaultCriticalThreshold = 90.0
)

// Thresholds are the percentage boundaries for warning and critical levels.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds returns the 75/90 split.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: DefaultWarningThreshold, Critical: DefaultCriticalThreshold}
}

// Valid reports whether the thresholds are within [0,100] and ordered. A zero
// critical threshold is invalid: it would classify every meter as critical.
func (t Thresholds) Valid() bool {
	return t.Warning >= 0 && t.Critical > 0 && t.Critical <= 100 && t.Warning <= t.Critical
}

// Classify returns the level for a usage percentage.
func (t Thresholds) Classify(percentage float64) UsageLevel {
	switch {
	case percentage >= t.Critical:
		return UsageLevelCritical
	case percentage >= t.Warning:
		return UsageLevelWarning
	default:
		return UsageLevelOK
	}
}

// UsageCounter is one counter per (user, usage type, billing period). Counts
// are written by the scan execution service; this service only reads them,
// apart from stamping LimitReachedAt once.
type UsageCounter struct {
	UserID         uuid.UUID
	UsageType      UsageType
	PeriodStart    time.Time
	Count          int64
	LimitReachedAt *time.Time // first time the count was observed at/over the limit
}

// Usage is the read-through view returned by the quota tracker.
type Usage struct {
	Used           int64      `json:"used"`
	PeriodStart    time.Time  `json:"periodStart"`
	LimitReachedAt *time.Time `json:"limitReachedAt,omitempty"`
}

// UsageStatus describes consumption against a limit. Limit and Remaining
// are nil when the limit is unlimited.
type UsageStatus struct {
	UsageType      UsageType  `json:"usageType"`
	Used           int64      `json:"used"`
	Limit          *int64     `json:"limit"`
	Remaining      *int64     `json:"remaining"`
	PercentageUsed float64    `json:"percentageUsed"`
	Level          UsageLevel `json:"level"`
	PeriodStart    time.Time  `json:"periodStart"`
	LimitReachedAt *time.Time `json:"limitReachedAt,omitempty"`
}

// Unlimited reports whether the status has no finite limit.
func (s UsageStatus) Unlimited() bool {
	return s.Limit == nil
}

// AtLimit reports whether usage has reached or passed a finite limit.
func (s UsageStatus) AtLimit() bool {
	return s.Limit != nil && s.Level != UsageLevelUnknown && s.Used >= *s.Limit
}

// PeriodStartFor returns the start of the UTC calendar month containing t.
// The billing provider owns the real rollover; calendar months are the
// default when a counter does not carry its own period start.
func PeriodStartFor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
