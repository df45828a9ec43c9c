// Package model defines the views shared by the control API and the
// notification stream. All monetary values use shopspring/decimal; never
// float64 for money. Margins are float64 percent.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/ledger"
)

// Event types pushed to notification sinks.
const (
	EventBuy        = "buy"
	EventSell       = "sell"
	EventSwap       = "swap"
	EventError      = "error"
	EventSuspended  = "trading_suspended"
	EventResumed    = "trading_resumed"
	EventTrailStart = "trailing_started"
	EventTrailEnd   = "trailing_resolved"
)

// Event is one notification. Data carries a view of the affected object.
type Event struct {
	Type    string    `json:"type"`
	Pair    string    `json:"pair,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// PositionView is a held pair with its derived values.
type PositionView struct {
	Pair          string          `json:"pair"`
	Amount        decimal.Decimal `json:"amount"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	ActualCost    decimal.Decimal `json:"actual_cost"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CurrentCost   decimal.Decimal `json:"current_cost"`
	CurrentSpread float64         `json:"current_spread"`
	Margin        float64         `json:"margin"`
	DCALevel      int             `json:"dca_level"`
	FirstBuy      time.Time       `json:"first_buy"`
	LastBuy       time.Time       `json:"last_buy"`
	Metadata      ledger.Metadata `json:"metadata"`
}

// NewPositionView derives the view of p.
func NewPositionView(p ledger.Position) PositionView {
	return PositionView{
		Pair:          p.Pair,
		Amount:        p.Amount(),
		AveragePrice:  p.AveragePrice,
		ActualCost:    p.ActualCost(),
		CostBasis:     p.CostBasis(),
		CurrentPrice:  p.CurrentPrice,
		CurrentCost:   p.CurrentCost(),
		CurrentSpread: p.CurrentSpread,
		Margin:        p.Margin(),
		DCALevel:      p.DCALevel(),
		FirstBuy:      p.FirstBuy(),
		LastBuy:       p.LastBuy(),
		Metadata:      p.Metadata,
	}
}

// AccountView aggregates the account with totals over its positions.
type AccountView struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	Virtual      bool            `json:"virtual"`
	Suspended    bool            `json:"suspended"`
	Balance      decimal.Decimal `json:"balance"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	Positions    []PositionView  `json:"positions"`
	PositionsCnt int             `json:"positions_count"`
}

// NewAccountView builds the view of an account.
func NewAccountView(acc ledger.Account, virtual, suspended bool) AccountView {
	positions := acc.Positions()
	v := AccountView{
		ID:           acc.ID(),
		Market:       acc.Market(),
		Virtual:      virtual,
		Suspended:    suspended,
		Balance:      acc.Balance(),
		Positions:    make([]PositionView, 0, len(positions)),
		PositionsCnt: len(positions),
	}
	for _, p := range positions {
		pv := NewPositionView(p)
		v.TotalCost = v.TotalCost.Add(pv.CostBasis)
		v.TotalValue = v.TotalValue.Add(pv.CurrentCost)
		v.Positions = append(v.Positions, pv)
	}
	v.TotalPnL = v.TotalValue.Sub(v.TotalCost)
	return v
}
