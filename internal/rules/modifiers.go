package rules

// Modifiers is the payload of a trading rule. Every field is optional; a
// matching rule overwrites only the fields it sets.
type Modifiers struct {
	MaxPairs      *int     `yaml:"max_pairs,omitempty" json:"max_pairs,omitempty"`
	MinCost       *float64 `yaml:"min_cost,omitempty" json:"min_cost,omitempty"`
	ExcludedPairs []string `yaml:"excluded_pairs,omitempty" json:"excluded_pairs,omitempty"`

	BuyEnabled            *bool       `yaml:"buy_enabled,omitempty" json:"buy_enabled,omitempty"`
	BuyMaxCost            *float64    `yaml:"buy_max_cost,omitempty" json:"buy_max_cost,omitempty"`
	BuyMultiplier         *float64    `yaml:"buy_multiplier,omitempty" json:"buy_multiplier,omitempty"`
	BuyMinBalance         *float64    `yaml:"buy_min_balance,omitempty" json:"buy_min_balance,omitempty"`
	BuySamePairTimeout    *float64    `yaml:"buy_same_pair_timeout,omitempty" json:"buy_same_pair_timeout,omitempty"`
	BuyTrailing           *float64    `yaml:"buy_trailing,omitempty" json:"buy_trailing,omitempty"`
	BuyTrailingStopMargin *float64    `yaml:"buy_trailing_stop_margin,omitempty" json:"buy_trailing_stop_margin,omitempty"`
	BuyTrailingStopAction *StopAction `yaml:"buy_trailing_stop_action,omitempty" json:"buy_trailing_stop_action,omitempty"`

	BuyDCAEnabled            *bool       `yaml:"buy_dca_enabled,omitempty" json:"buy_dca_enabled,omitempty"`
	BuyDCAMultiplier         *float64    `yaml:"buy_dca_multiplier,omitempty" json:"buy_dca_multiplier,omitempty"`
	BuyDCAMinBalance         *float64    `yaml:"buy_dca_min_balance,omitempty" json:"buy_dca_min_balance,omitempty"`
	BuyDCASamePairTimeout    *float64    `yaml:"buy_dca_same_pair_timeout,omitempty" json:"buy_dca_same_pair_timeout,omitempty"`
	BuyDCATrailing           *float64    `yaml:"buy_dca_trailing,omitempty" json:"buy_dca_trailing,omitempty"`
	BuyDCATrailingStopMargin *float64    `yaml:"buy_dca_trailing_stop_margin,omitempty" json:"buy_dca_trailing_stop_margin,omitempty"`
	BuyDCATrailingStopAction *StopAction `yaml:"buy_dca_trailing_stop_action,omitempty" json:"buy_dca_trailing_stop_action,omitempty"`

	SellEnabled            *bool       `yaml:"sell_enabled,omitempty" json:"sell_enabled,omitempty"`
	SellTimeout            *float64    `yaml:"sell_timeout,omitempty" json:"sell_timeout,omitempty"`
	SellMargin             *float64    `yaml:"sell_margin,omitempty" json:"sell_margin,omitempty"`
	SellTrailing           *float64    `yaml:"sell_trailing,omitempty" json:"sell_trailing,omitempty"`
	SellTrailingStopMargin *float64    `yaml:"sell_trailing_stop_margin,omitempty" json:"sell_trailing_stop_margin,omitempty"`
	SellTrailingStopAction *StopAction `yaml:"sell_trailing_stop_action,omitempty" json:"sell_trailing_stop_action,omitempty"`

	SellStopLossEnabled  *bool    `yaml:"sell_stop_loss_enabled,omitempty" json:"sell_stop_loss_enabled,omitempty"`
	SellStopLossAfterDCA *bool    `yaml:"sell_stop_loss_after_dca,omitempty" json:"sell_stop_loss_after_dca,omitempty"`
	SellStopLossMinAge   *float64 `yaml:"sell_stop_loss_min_age,omitempty" json:"sell_stop_loss_min_age,omitempty"`
	SellStopLossMargin   *float64 `yaml:"sell_stop_loss_margin,omitempty" json:"sell_stop_loss_margin,omitempty"`

	SellDCAMargin             *float64    `yaml:"sell_dca_margin,omitempty" json:"sell_dca_margin,omitempty"`
	SellDCATrailing           *float64    `yaml:"sell_dca_trailing,omitempty" json:"sell_dca_trailing,omitempty"`
	SellDCATrailingStopMargin *float64    `yaml:"sell_dca_trailing_stop_margin,omitempty" json:"sell_dca_trailing_stop_margin,omitempty"`
	SellDCATrailingStopAction *StopAction `yaml:"sell_dca_trailing_stop_action,omitempty" json:"sell_dca_trailing_stop_action,omitempty"`

	RepeatLastDCALevel *bool `yaml:"repeat_last_dca_level,omitempty" json:"repeat_last_dca_level,omitempty"`

	SwapEnabled     *bool    `yaml:"swap_enabled,omitempty" json:"swap_enabled,omitempty"`
	SwapSignalRules []string `yaml:"swap_signal_rules,omitempty" json:"swap_signal_rules,omitempty"`
	SwapTimeout     *float64 `yaml:"swap_timeout,omitempty" json:"swap_timeout,omitempty"`

	ArbitrageEnabled       *bool    `yaml:"arbitrage_enabled,omitempty" json:"arbitrage_enabled,omitempty"`
	ArbitrageBuyMultiplier *float64 `yaml:"arbitrage_buy_multiplier,omitempty" json:"arbitrage_buy_multiplier,omitempty"`
	ArbitrageSellMargin    *float64 `yaml:"arbitrage_sell_margin,omitempty" json:"arbitrage_sell_margin,omitempty"`
}

func (m Modifiers) validate() error {
	for _, a := range []*StopAction{
		m.BuyTrailingStopAction, m.BuyDCATrailingStopAction,
		m.SellTrailingStopAction, m.SellDCATrailingStopAction,
	} {
		if a != nil && !a.valid() {
			return ErrUnknownStopAction
		}
	}
	return nil
}

// Apply overwrites the fields of t that m sets and returns the result.
// t's slices are never shared with the result when m replaces them.
func (m Modifiers) Apply(t Trading) Trading {
	override(&t.MaxPairs, m.MaxPairs)
	override(&t.MinCost, m.MinCost)
	if m.ExcludedPairs != nil {
		t.ExcludedPairs = append([]string(nil), m.ExcludedPairs...)
	}

	override(&t.BuyEnabled, m.BuyEnabled)
	override(&t.BuyMaxCost, m.BuyMaxCost)
	override(&t.BuyMultiplier, m.BuyMultiplier)
	override(&t.BuyMinBalance, m.BuyMinBalance)
	override(&t.BuySamePairTimeout, m.BuySamePairTimeout)
	override(&t.BuyTrailing, m.BuyTrailing)
	override(&t.BuyTrailingStopMargin, m.BuyTrailingStopMargin)
	override(&t.BuyTrailingStopAction, m.BuyTrailingStopAction)

	override(&t.BuyDCAEnabled, m.BuyDCAEnabled)
	override(&t.BuyDCAMultiplier, m.BuyDCAMultiplier)
	override(&t.BuyDCAMinBalance, m.BuyDCAMinBalance)
	override(&t.BuyDCASamePairTimeout, m.BuyDCASamePairTimeout)
	override(&t.BuyDCATrailing, m.BuyDCATrailing)
	override(&t.BuyDCATrailingStopMargin, m.BuyDCATrailingStopMargin)
	override(&t.BuyDCATrailingStopAction, m.BuyDCATrailingStopAction)

	override(&t.SellEnabled, m.SellEnabled)
	override(&t.SellTimeout, m.SellTimeout)
	override(&t.SellMargin, m.SellMargin)
	override(&t.SellTrailing, m.SellTrailing)
	override(&t.SellTrailingStopMargin, m.SellTrailingStopMargin)
	override(&t.SellTrailingStopAction, m.SellTrailingStopAction)

	override(&t.SellStopLossEnabled, m.SellStopLossEnabled)
	override(&t.SellStopLossAfterDCA, m.SellStopLossAfterDCA)
	override(&t.SellStopLossMinAge, m.SellStopLossMinAge)
	override(&t.SellStopLossMargin, m.SellStopLossMargin)

	override(&t.SellDCAMargin, m.SellDCAMargin)
	override(&t.SellDCATrailing, m.SellDCATrailing)
	override(&t.SellDCATrailingStopMargin, m.SellDCATrailingStopMargin)
	override(&t.SellDCATrailingStopAction, m.SellDCATrailingStopAction)

	override(&t.RepeatLastDCALevel, m.RepeatLastDCALevel)

	override(&t.SwapEnabled, m.SwapEnabled)
	if m.SwapSignalRules != nil {
		t.SwapSignalRules = append([]string(nil), m.SwapSignalRules...)
	}
	override(&t.SwapTimeout, m.SwapTimeout)

	override(&t.ArbitrageEnabled, m.ArbitrageEnabled)
	override(&t.ArbitrageBuyMultiplier, m.ArbitrageBuyMultiplier)
	override(&t.ArbitrageSellMargin, m.ArbitrageSellMargin)
	return t
}

func override[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
