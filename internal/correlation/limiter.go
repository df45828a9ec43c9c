// Package correlation implements exposure limits that account for
// correlation between held assets.
//
// Holding ten pairs whose base currencies all move with one ecosystem is
// one bet, not ten. Base currencies are assigned to named groups; the
// limiter caps the cost held in any single pair, in any group, and in the
// account as a whole.
package correlation

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerPairLimitExceeded is returned when a buy would push a single
	// pair's cost beyond the per-pair maximum.
	ErrPerPairLimitExceeded = errors.New("correlation: per-pair exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a buy would push the
	// aggregate cost across a correlated group beyond the group maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when a buy would push the total
	// held cost beyond the account maximum.
	ErrTotalLimitExceeded = errors.New("correlation: total exposure limit exceeded")
)

// BaseOf extracts the base currency of a pair.
type BaseOf func(pair string) string

// PositionLimiter enforces exposure limits with correlation awareness.
// A zero limit disables that check.
type PositionLimiter struct {
	// MaxPerPair is the maximum cost held in any single pair.
	MaxPerPair decimal.Decimal

	// MaxCorrelated is the maximum aggregate cost across all pairs whose
	// base currencies share a group.
	MaxCorrelated decimal.Decimal

	// MaxTotal is the maximum cost held across all pairs.
	MaxTotal decimal.Decimal

	groups map[string]string
	baseOf BaseOf
}

// NewPositionLimiter creates a limiter. groups maps a group name to its
// base currencies; a currency in no group forms a group of its own.
func NewPositionLimiter(maxPerPair, maxCorrelated, maxTotal decimal.Decimal, groups map[string][]string, baseOf BaseOf) *PositionLimiter {
	byCurrency := make(map[string]string)
	for name, currencies := range groups {
		for _, c := range currencies {
			byCurrency[strings.ToUpper(c)] = name
		}
	}
	return &PositionLimiter{
		MaxPerPair:    maxPerPair,
		MaxCorrelated: maxCorrelated,
		MaxTotal:      maxTotal,
		groups:        byCurrency,
		baseOf:        baseOf,
	}
}

// Group returns the correlation group of pair.
func (l *PositionLimiter) Group(pair string) string {
	base := pair
	if l.baseOf != nil {
		base = l.baseOf(pair)
	}
	if g, ok := l.groups[base]; ok {
		return g
	}
	return base
}

// CheckLimit validates whether a buy respects the exposure limits.
//
// Parameters:
//   - pair: the pair being bought
//   - costDelta: the cost the buy adds
//   - existing: map of pair → cost currently held
//
// Returns nil if the buy is within limits, or an error describing the violation.
func (l *PositionLimiter) CheckLimit(
	pair string,
	costDelta decimal.Decimal,
	existing map[string]decimal.Decimal,
) error {
	// 1. Per-pair limit.
	newPosition := existing[pair].Add(costDelta)
	if l.MaxPerPair.IsPositive() && newPosition.GreaterThan(l.MaxPerPair) {
		return ErrPerPairLimitExceeded
	}

	// 2. Correlated and total exposure.
	group := l.Group(pair)
	totalCorrelated := newPosition
	total := newPosition
	for other, cost := range existing {
		if other == pair {
			continue // already counted via newPosition above
		}
		total = total.Add(cost)
		if l.Group(other) == group {
			totalCorrelated = totalCorrelated.Add(cost)
		}
	}

	if l.MaxCorrelated.IsPositive() && totalCorrelated.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	if l.MaxTotal.IsPositive() && total.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}
	return nil
}
