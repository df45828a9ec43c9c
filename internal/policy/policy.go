// Package policy folds the trading rules that match a pair into the base
// trading configuration and caches the result per pair.
package policy

import (
	"time"

	"github.com/atmx/trade-engine/internal/rules"
)

// Policy is the effective configuration for one pair. Durations are
// already divided by the speed factor. Policies are produced by the
// Resolver and must not be modified by callers.
type Policy struct {
	Pair         string   `json:"pair"`
	MatchedRules []string `json:"matched_rules"`
	HasPosition  bool     `json:"has_position"`
	DCALevel     int      `json:"dca_level"`

	MaxPairs int     `json:"max_pairs"`
	MinCost  float64 `json:"min_cost"`
	Excluded bool    `json:"excluded"`

	// Buy fields come from the DCA variants when a position exists.
	BuyEnabled            bool             `json:"buy_enabled"`
	BuyMaxCost            float64          `json:"buy_max_cost"`
	BuyMultiplier         float64          `json:"buy_multiplier"`
	BuyMinBalance         float64          `json:"buy_min_balance"`
	BuySamePairTimeout    time.Duration    `json:"buy_same_pair_timeout"`
	BuyTrailing           float64          `json:"buy_trailing"`
	BuyTrailingStopMargin float64          `json:"buy_trailing_stop_margin"`
	BuyTrailingStopAction rules.StopAction `json:"buy_trailing_stop_action"`

	SellEnabled            bool             `json:"sell_enabled"`
	SellTimeout            time.Duration    `json:"sell_timeout"`
	SellMargin             float64          `json:"sell_margin"`
	SellTrailing           float64          `json:"sell_trailing"`
	SellTrailingStopMargin float64          `json:"sell_trailing_stop_margin"`
	SellTrailingStopAction rules.StopAction `json:"sell_trailing_stop_action"`

	SellStopLossEnabled  bool          `json:"sell_stop_loss_enabled"`
	SellStopLossAfterDCA bool          `json:"sell_stop_loss_after_dca"`
	SellStopLossMinAge   time.Duration `json:"sell_stop_loss_min_age"`
	SellStopLossMargin   float64       `json:"sell_stop_loss_margin"`

	RepeatLastDCALevel bool            `json:"repeat_last_dca_level"`
	CurrentDCALevel    *rules.DCALevel `json:"current_dca_level,omitempty"`
	NextDCALevel       *rules.DCALevel `json:"next_dca_level,omitempty"`

	SwapEnabled     bool          `json:"swap_enabled"`
	SwapSignalRules []string      `json:"swap_signal_rules,omitempty"`
	SwapTimeout     time.Duration `json:"swap_timeout"`

	ArbitrageEnabled       bool     `json:"arbitrage_enabled"`
	ArbitrageMarkets       []string `json:"arbitrage_markets,omitempty"`
	ArbitrageBuyMultiplier float64  `json:"arbitrage_buy_multiplier"`
	ArbitrageSellMargin    float64  `json:"arbitrage_sell_margin"`
	ArbitrageSignalRules   []string `json:"arbitrage_signal_rules,omitempty"`
}

// NextDCAMargin is the position margin at or below which the next DCA buy
// fires, or nil when there is no next tier.
func (p *Policy) NextDCAMargin() *float64 {
	if p.NextDCALevel == nil {
		return nil
	}
	m := p.NextDCALevel.Margin
	return &m
}

// EffectiveBuyMaxCost is the cost ceiling of a buy under this policy: the base
// max cost scaled by the multiplier. A zero multiplier means 1.
func (p *Policy) EffectiveBuyMaxCost() float64 {
	mult := p.BuyMultiplier
	if mult == 0 {
		mult = 1
	}
	return p.BuyMaxCost * mult
}
