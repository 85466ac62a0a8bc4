// Package domain contains core business types and interfaces.
//
// This file defines the subscription tier type. Tiers are a closed set with a
// total order; every entitlement check compares against that order.
package domain

import (
	"fmt"
	"strings"
)

// Tier is a subscription level. The zero value is not a valid tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierUser       Tier = "user"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

// tierOrder is the canonical ordering, lowest first.
var tierOrder = []Tier{TierFree, TierUser, TierTeam, TierEnterprise, TierAdmin}

// AllTiers returns every tier in ascending order.
func AllTiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

// ParseTier converts a raw string (as delivered by the identity or billing
// provider) into a Tier. Matching is case-insensitive.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Rank() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Rank returns the position of the tier in the total order, or -1 for an
// unknown tier.
func (t Tier) Rank() int {
	for i, candidate := range tierOrder {
		if candidate == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// AtLeast reports whether t is the same as or above other. Unknown tiers are
// never at least anything.
func (t Tier) AtLeast(other Tier) bool {
	r, o := t.Rank(), other.Rank()
	if r < 0 || o < 0 {
		return false
	}
	return r >= o
}

// Next returns the tier directly above t, or false if t is the highest tier
// or unknown.
func (t Tier) Next() (Tier, bool) {
	r := t.Rank()
	if r < 0 || r+1 >= len(tierOrder) {
		return "", false
	}
	return tierOrder[r+1], true
}

// HasCustomPricing reports whether the tier is billed under a negotiated
// contract. Discounted upgrade offers never target these tiers.
func (t Tier) HasCustomPricing() bool {
	return t == TierEnterprise || t == TierAdmin
}

func (t Tier) String() string {
	return string(t)
}
