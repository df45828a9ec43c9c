// Package trailing implements the deferred buy and sell state machines.
//
// Margins are "higher is better" on both sides: a buy trail measures how
// far the price has fallen since the trail started, a sell trail uses the
// position margin. An entry leaves the trailing state when the margin hits
// the hard stop or gives back more than the distance from its best value.
package trailing

import (
	"time"

	"github.com/atmx/trade-engine/internal/rules"
)

// Outcome is the result of advancing an entry by one tick.
type Outcome int

const (
	// None means there was no entry to advance.
	None Outcome = iota
	// Trailing means the entry is still active.
	Trailing
	// Execute means the pending order must be submitted.
	Execute
	// Abandon means the entry was dropped without trading.
	Abandon
)

func (o Outcome) String() string {
	switch o {
	case Trailing:
		return "trailing"
	case Execute:
		return "execute"
	case Abandon:
		return "abandon"
	default:
		return "none"
	}
}

// Info is one trailing entry carrying the pending request R.
type Info[R any] struct {
	Request     R                `json:"request"`
	Distance    float64          `json:"distance"`
	StopMargin  float64          `json:"stop_margin"`
	StopAction  rules.StopAction `json:"stop_action"`
	StartPrice  float64          `json:"start_price"`
	StartMargin float64          `json:"start_margin"`
	LastMargin  float64          `json:"last_margin"`
	BestMargin  float64          `json:"best_margin"`
	Started     time.Time        `json:"started"`
}

// NewInfo starts an entry at price0/margin0.
func NewInfo[R any](req R, distance, stopMargin float64, action rules.StopAction, price0, margin0 float64, now time.Time) *Info[R] {
	return &Info[R]{
		Request:     req,
		Distance:    distance,
		StopMargin:  stopMargin,
		StopAction:  action,
		StartPrice:  price0,
		StartMargin: margin0,
		LastMargin:  margin0,
		BestMargin:  margin0,
		Started:     now,
	}
}

// Advance feeds the current margin. A disabled side abandons the entry.
func (i *Info[R]) Advance(current float64, enabled bool) Outcome {
	i.LastMargin = current
	if !enabled {
		return Abandon
	}

	hardStop := current <= i.StopMargin
	if hardStop || current < i.BestMargin-i.Distance {
		if i.StopAction == rules.StopActionExecute || !hardStop {
			return Execute
		}
		return Abandon
	}

	if current > i.BestMargin {
		i.BestMargin = current
	}
	return Trailing
}

// BuyMargin is the percentage the price has fallen since start.
func BuyMargin(startPrice, current float64) float64 {
	if startPrice == 0 {
		return 0
	}
	return (startPrice - current) / startPrice * 100
}
