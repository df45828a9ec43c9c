// Package ledger owns the account state: quote-currency balance, held
// positions with their cost basis and fees, and the trade results produced
// by sells. Virtual and live accounts share the Book mutation routines.
//
// All monetary values use shopspring/decimal; margins are float64 percent.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/rules"
)

var hundred = decimal.NewFromInt(100)

// Position is the holding of one pair. TotalAmount is the gross filled
// quantity; fees paid in the pair currency are deducted from it to get the
// held Amount.
type Position struct {
	Pair         string          `json:"pair"`
	OrderIDs     []string        `json:"order_ids"`
	OrderDates   []time.Time     `json:"order_dates"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	AveragePrice decimal.Decimal `json:"average_price"`
	FeesPair     decimal.Decimal `json:"fees_pair"`
	FeesMarket   decimal.Decimal `json:"fees_market"`
	Metadata     Metadata        `json:"metadata"`

	CurrentPrice  decimal.Decimal `json:"-"`
	CurrentSpread float64         `json:"-"`
}

// Amount is the quantity currently held.
func (p *Position) Amount() decimal.Decimal {
	return p.TotalAmount.Sub(p.FeesPair)
}

// Cost is what was paid for the gross quantity, fees excluded.
func (p *Position) Cost() decimal.Decimal {
	return p.AveragePrice.Mul(p.TotalAmount)
}

// ActualCost is Cost plus fees paid in the market currency.
func (p *Position) ActualCost() decimal.Decimal {
	return p.Cost().Add(p.FeesMarket)
}

// CostBasis is ActualCost plus costs carried over from a swap.
func (p *Position) CostBasis() decimal.Decimal {
	return p.ActualCost().Add(p.Metadata.additionalCosts())
}

// CurrentCost is the held amount valued at the current price.
func (p *Position) CurrentCost() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Amount())
}

// Priced reports whether the position has a current price. Positions
// restored from a snapshot have none until the first price update.
func (p *Position) Priced() bool {
	return p.CurrentPrice.IsPositive()
}

// Margin is the unrealized profit in percent of the cost basis.
func (p *Position) Margin() float64 {
	basis := p.CostBasis()
	if basis.IsZero() {
		return 0
	}
	return p.CurrentCost().Sub(basis).Div(basis).Mul(hundred).InexactFloat64()
}

// DCALevel is the number of fills after the first, plus levels carried
// over from a swap. Never negative.
func (p *Position) DCALevel() int {
	level := len(p.OrderIDs) - 1
	if p.Metadata.AdditionalDCALevels != nil {
		level += *p.Metadata.AdditionalDCALevels
	}
	if level < 0 {
		return 0
	}
	return level
}

// FirstBuy is the date of the earliest fill.
func (p *Position) FirstBuy() time.Time {
	if len(p.OrderDates) == 0 {
		return time.Time{}
	}
	return p.OrderDates[0]
}

// LastBuy is the date of the latest fill.
func (p *Position) LastBuy() time.Time {
	if len(p.OrderDates) == 0 {
		return time.Time{}
	}
	return p.OrderDates[len(p.OrderDates)-1]
}

// State is the snapshot the rule evaluator tests conditions against.
func (p *Position) State() *rules.PositionState {
	return &rules.PositionState{
		FirstBuy:      p.FirstBuy(),
		LastBuy:       p.LastBuy(),
		Margin:        p.Margin(),
		Unpriced:      !p.Priced(),
		LastBuyMargin: p.Metadata.LastBuyMargin,
		Amount:        p.Amount().InexactFloat64(),
		Cost:          p.ActualCost().InexactFloat64(),
		DCALevel:      p.DCALevel(),
		SignalRule:    p.Metadata.SignalRule,
	}
}

func (p *Position) clone() *Position {
	c := *p
	c.OrderIDs = append([]string(nil), p.OrderIDs...)
	c.OrderDates = append([]time.Time(nil), p.OrderDates...)
	c.Metadata = p.Metadata.clone()
	return &c
}
