package ledger

import "github.com/shopspring/decimal"

// Metadata is the provenance carried by orders and positions.
type Metadata struct {
	TradingRules        []string         `json:"trading_rules,omitempty"`
	SignalRule          string           `json:"signal_rule,omitempty"`
	Signals             []string         `json:"signals,omitempty"`
	BoughtRating        *float64         `json:"bought_rating,omitempty"`
	BoughtGlobalRating  *float64         `json:"bought_global_rating,omitempty"`
	LastBuyMargin       *float64         `json:"last_buy_margin,omitempty"`
	AdditionalDCALevels *int             `json:"additional_dca_levels,omitempty"`
	AdditionalCosts     *decimal.Decimal `json:"additional_costs,omitempty"`
	SwapPair            string           `json:"swap_pair,omitempty"`
	ArbitrageMarket     string           `json:"arbitrage_market,omitempty"`
}

// Merge returns m with every empty field filled from other.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.clone()
	if out.TradingRules == nil {
		out.TradingRules = append([]string(nil), other.TradingRules...)
	}
	if out.SignalRule == "" {
		out.SignalRule = other.SignalRule
	}
	if out.Signals == nil {
		out.Signals = append([]string(nil), other.Signals...)
	}
	first(&out.BoughtRating, other.BoughtRating)
	first(&out.BoughtGlobalRating, other.BoughtGlobalRating)
	first(&out.LastBuyMargin, other.LastBuyMargin)
	first(&out.AdditionalDCALevels, other.AdditionalDCALevels)
	first(&out.AdditionalCosts, other.AdditionalCosts)
	if out.SwapPair == "" {
		out.SwapPair = other.SwapPair
	}
	if out.ArbitrageMarket == "" {
		out.ArbitrageMarket = other.ArbitrageMarket
	}
	return out
}

func (m Metadata) additionalCosts() decimal.Decimal {
	if m.AdditionalCosts == nil {
		return decimal.Zero
	}
	return *m.AdditionalCosts
}

func (m Metadata) clone() Metadata {
	c := m
	if m.TradingRules != nil {
		c.TradingRules = append([]string(nil), m.TradingRules...)
	}
	if m.Signals != nil {
		c.Signals = append([]string(nil), m.Signals...)
	}
	c.BoughtRating = copyPtr(m.BoughtRating)
	c.BoughtGlobalRating = copyPtr(m.BoughtGlobalRating)
	c.LastBuyMargin = copyPtr(m.LastBuyMargin)
	c.AdditionalDCALevels = copyPtr(m.AdditionalDCALevels)
	c.AdditionalCosts = copyPtr(m.AdditionalCosts)
	return c
}

func first[T any](dst **T, src *T) {
	if *dst == nil && src != nil {
		*dst = copyPtr(src)
	}
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
