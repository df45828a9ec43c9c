// Package rules holds the trading configuration model (base policy, DCA
// levels, rules and their modifiers) and the condition evaluator that
// matches rules against signal and position snapshots.
package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMode is returned for an unsupported processing mode.
	ErrUnknownMode = errors.New("rules: unknown processing mode")

	// ErrUnknownStopAction is returned for an unsupported stop action.
	ErrUnknownStopAction = errors.New("rules: unknown trailing stop action")

	// ErrBuyStopMargin is returned when a buy trail has a stop margin
	// the entry's own start margin of 0 already hits.
	ErrBuyStopMargin = errors.New("rules: buy trailing stop margin must be negative")

	// ErrDuplicateRule is returned when two rules in a module share a name.
	ErrDuplicateRule = errors.New("rules: duplicate rule name")
)

// StopAction decides what a trailing entry does when its hard stop margin
// is crossed.
type StopAction string

const (
	StopActionExecute StopAction = "execute"
	StopActionAbandon StopAction = "abandon"
)

func (a StopAction) valid() bool {
	return a == "" || a == StopActionExecute || a == StopActionAbandon
}

// ProcessingMode controls how many matching rules are folded per pair.
type ProcessingMode string

const (
	ModeAllMatches ProcessingMode = "all_matches"
	ModeFirstMatch ProcessingMode = "first_match"
)

// Trading is the account-wide base policy. Durations are wall-clock
// seconds; the resolver divides them by the speed factor.
type Trading struct {
	Market        string   `yaml:"market" json:"market"`
	MaxPairs      int      `yaml:"max_pairs" json:"max_pairs"`
	MinCost       float64  `yaml:"min_cost" json:"min_cost"`
	ExcludedPairs []string `yaml:"excluded_pairs" json:"excluded_pairs"`

	BuyEnabled            bool       `yaml:"buy_enabled" json:"buy_enabled"`
	BuyMaxCost            float64    `yaml:"buy_max_cost" json:"buy_max_cost"`
	BuyMultiplier         float64    `yaml:"buy_multiplier" json:"buy_multiplier"`
	BuyMinBalance         float64    `yaml:"buy_min_balance" json:"buy_min_balance"`
	BuySamePairTimeout    float64    `yaml:"buy_same_pair_timeout" json:"buy_same_pair_timeout"`
	BuyTrailing           float64    `yaml:"buy_trailing" json:"buy_trailing"`
	BuyTrailingStopMargin float64    `yaml:"buy_trailing_stop_margin" json:"buy_trailing_stop_margin"`
	BuyTrailingStopAction StopAction `yaml:"buy_trailing_stop_action" json:"buy_trailing_stop_action"`

	BuyDCAEnabled            bool       `yaml:"buy_dca_enabled" json:"buy_dca_enabled"`
	BuyDCAMultiplier         float64    `yaml:"buy_dca_multiplier" json:"buy_dca_multiplier"`
	BuyDCAMinBalance         float64    `yaml:"buy_dca_min_balance" json:"buy_dca_min_balance"`
	BuyDCASamePairTimeout    float64    `yaml:"buy_dca_same_pair_timeout" json:"buy_dca_same_pair_timeout"`
	BuyDCATrailing           float64    `yaml:"buy_dca_trailing" json:"buy_dca_trailing"`
	BuyDCATrailingStopMargin float64    `yaml:"buy_dca_trailing_stop_margin" json:"buy_dca_trailing_stop_margin"`
	BuyDCATrailingStopAction StopAction `yaml:"buy_dca_trailing_stop_action" json:"buy_dca_trailing_stop_action"`

	SellEnabled            bool       `yaml:"sell_enabled" json:"sell_enabled"`
	SellTimeout            float64    `yaml:"sell_timeout" json:"sell_timeout"`
	SellMargin             float64    `yaml:"sell_margin" json:"sell_margin"`
	SellTrailing           float64    `yaml:"sell_trailing" json:"sell_trailing"`
	SellTrailingStopMargin float64    `yaml:"sell_trailing_stop_margin" json:"sell_trailing_stop_margin"`
	SellTrailingStopAction StopAction `yaml:"sell_trailing_stop_action" json:"sell_trailing_stop_action"`

	SellStopLossEnabled  bool    `yaml:"sell_stop_loss_enabled" json:"sell_stop_loss_enabled"`
	SellStopLossAfterDCA bool    `yaml:"sell_stop_loss_after_dca" json:"sell_stop_loss_after_dca"`
	SellStopLossMinAge   float64 `yaml:"sell_stop_loss_min_age" json:"sell_stop_loss_min_age"`
	SellStopLossMargin   float64 `yaml:"sell_stop_loss_margin" json:"sell_stop_loss_margin"`

	SellDCAMargin             float64    `yaml:"sell_dca_margin" json:"sell_dca_margin"`
	SellDCATrailing           float64    `yaml:"sell_dca_trailing" json:"sell_dca_trailing"`
	SellDCATrailingStopMargin float64    `yaml:"sell_dca_trailing_stop_margin" json:"sell_dca_trailing_stop_margin"`
	SellDCATrailingStopAction StopAction `yaml:"sell_dca_trailing_stop_action" json:"sell_dca_trailing_stop_action"`

	RepeatLastDCALevel bool       `yaml:"repeat_last_dca_level" json:"repeat_last_dca_level"`
	DCALevels          []DCALevel `yaml:"dca_levels" json:"dca_levels"`

	SwapEnabled     bool     `yaml:"swap_enabled" json:"swap_enabled"`
	SwapSignalRules []string `yaml:"swap_signal_rules" json:"swap_signal_rules"`
	SwapTimeout     float64  `yaml:"swap_timeout" json:"swap_timeout"`

	ArbitrageEnabled       bool     `yaml:"arbitrage_enabled" json:"arbitrage_enabled"`
	ArbitrageMarkets       []string `yaml:"arbitrage_markets" json:"arbitrage_markets"`
	ArbitrageBuyMultiplier float64  `yaml:"arbitrage_buy_multiplier" json:"arbitrage_buy_multiplier"`
	ArbitrageSellMargin    float64  `yaml:"arbitrage_sell_margin" json:"arbitrage_sell_margin"`
	ArbitrageSignalRules   []string `yaml:"arbitrage_signal_rules" json:"arbitrage_signal_rules"`
}

// DCALevel is one dollar-cost-average tier. Margin is the position margin
// at or below which the tier's buy fires; the optional fields override the
// DCA variants of the base policy while the tier is current or next.
type DCALevel struct {
	Margin                 float64     `yaml:"margin" json:"margin"`
	BuyMultiplier          *float64    `yaml:"buy_multiplier,omitempty" json:"buy_multiplier,omitempty"`
	BuySamePairTimeout     *float64    `yaml:"buy_same_pair_timeout,omitempty" json:"buy_same_pair_timeout,omitempty"`
	BuyTrailing            *float64    `yaml:"buy_trailing,omitempty" json:"buy_trailing,omitempty"`
	BuyTrailingStopMargin  *float64    `yaml:"buy_trailing_stop_margin,omitempty" json:"buy_trailing_stop_margin,omitempty"`
	BuyTrailingStopAction  *StopAction `yaml:"buy_trailing_stop_action,omitempty" json:"buy_trailing_stop_action,omitempty"`
	SellMargin             *float64    `yaml:"sell_margin,omitempty" json:"sell_margin,omitempty"`
	SellTrailing           *float64    `yaml:"sell_trailing,omitempty" json:"sell_trailing,omitempty"`
	SellTrailingStopMargin *float64    `yaml:"sell_trailing_stop_margin,omitempty" json:"sell_trailing_stop_margin,omitempty"`
	SellTrailingStopAction *StopAction `yaml:"sell_trailing_stop_action,omitempty" json:"sell_trailing_stop_action,omitempty"`
}

// Rule is a named, ordered list of conditions plus what happens when they
// all match: trading rules override policy fields through Modifiers,
// signal rules start buys.
type Rule struct {
	Name       string      `yaml:"name" json:"name"`
	Enabled    bool        `yaml:"enabled" json:"enabled"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
	Trailing   *Trailing   `yaml:"trailing,omitempty" json:"trailing,omitempty"`
	Modifiers  Modifiers   `yaml:"modifiers" json:"modifiers"`
}

// Trailing is a rule's deferred-entry sub-rule. Once StartConditions match
// the rule waits at least MinDuration seconds before its main conditions
// may fire and gives up after MaxDuration seconds.
type Trailing struct {
	Enabled         bool        `yaml:"enabled" json:"enabled"`
	MinDuration     float64     `yaml:"min_duration" json:"min_duration"`
	MaxDuration     float64     `yaml:"max_duration" json:"max_duration"`
	StartConditions []Condition `yaml:"start_conditions" json:"start_conditions"`
}

// Module is an ordered rule list and its processing mode.
type Module struct {
	ProcessingMode ProcessingMode `yaml:"processing_mode" json:"processing_mode"`
	Rules          []Rule         `yaml:"rules" json:"rules"`
}

// EnabledRules returns the enabled rules in declared order.
func (m Module) EnabledRules() []Rule {
	out := make([]Rule, 0, len(m.Rules))
	for _, r := range m.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// FirstMatch reports whether folding stops after the first matching rule.
func (m Module) FirstMatch() bool {
	return m.ProcessingMode == ModeFirstMatch
}

// Rule looks up a rule by name.
func (m Module) Rule(name string) (Rule, bool) {
	for _, r := range m.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Validate checks modes, stop actions and rule name uniqueness.
func (m Module) Validate() error {
	switch m.ProcessingMode {
	case "", ModeAllMatches, ModeFirstMatch:
	default:
		return ErrUnknownMode
	}
	seen := make(map[string]bool, len(m.Rules))
	for _, r := range m.Rules {
		if seen[r.Name] {
			return ErrDuplicateRule
		}
		seen[r.Name] = true
		if err := r.Modifiers.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the stop actions used by the base policy and its tiers.
func (t Trading) Validate() error {
	for _, a := range []StopAction{
		t.BuyTrailingStopAction, t.BuyDCATrailingStopAction,
		t.SellTrailingStopAction, t.SellDCATrailingStopAction,
	} {
		if !a.valid() {
			return ErrUnknownStopAction
		}
	}
	for _, l := range t.DCALevels {
		for _, a := range []*StopAction{l.BuyTrailingStopAction, l.SellTrailingStopAction} {
			if a != nil && !a.valid() {
				return ErrUnknownStopAction
			}
		}
	}

	if t.BuyTrailing != 0 && t.BuyTrailingStopMargin >= 0 {
		return fmt.Errorf("%w: buy_trailing_stop_margin %g", ErrBuyStopMargin, t.BuyTrailingStopMargin)
	}
	if t.BuyDCATrailing != 0 && t.BuyDCATrailingStopMargin >= 0 {
		return fmt.Errorf("%w: buy_dca_trailing_stop_margin %g", ErrBuyStopMargin, t.BuyDCATrailingStopMargin)
	}
	for i, l := range t.DCALevels {
		trailing, stop := t.BuyDCATrailing, t.BuyDCATrailingStopMargin
		if l.BuyTrailing != nil {
			trailing = *l.BuyTrailing
		}
		if l.BuyTrailingStopMargin != nil {
			stop = *l.BuyTrailingStopMargin
		}
		if trailing != 0 && stop >= 0 {
			return fmt.Errorf("%w: dca level %d stop margin %g", ErrBuyStopMargin, i+1, stop)
		}
	}
	return nil
}
