package rules

import (
	"time"

	"github.com/atmx/trade-engine/internal/clock"
	"github.com/atmx/trade-engine/internal/signals"
)

// Condition is a set of optional bounds. Every bound that is set must hold
// for the condition to match; a bound on a quantity that is not available
// (missing signal, missing field, no global rating, no position) fails.
//
// Age bounds are wall-clock seconds.
type Condition struct {
	Signal string `yaml:"signal,omitempty" json:"signal,omitempty"`

	MinVolume       *float64 `yaml:"min_volume,omitempty" json:"min_volume,omitempty"`
	MaxVolume       *float64 `yaml:"max_volume,omitempty" json:"max_volume,omitempty"`
	MinVolumeChange *float64 `yaml:"min_volume_change,omitempty" json:"min_volume_change,omitempty"`
	MaxVolumeChange *float64 `yaml:"max_volume_change,omitempty" json:"max_volume_change,omitempty"`
	MinPrice        *float64 `yaml:"min_price,omitempty" json:"min_price,omitempty"`
	MaxPrice        *float64 `yaml:"max_price,omitempty" json:"max_price,omitempty"`
	MinPriceChange  *float64 `yaml:"min_price_change,omitempty" json:"min_price_change,omitempty"`
	MaxPriceChange  *float64 `yaml:"max_price_change,omitempty" json:"max_price_change,omitempty"`
	MinRating       *float64 `yaml:"min_rating,omitempty" json:"min_rating,omitempty"`
	MaxRating       *float64 `yaml:"max_rating,omitempty" json:"max_rating,omitempty"`
	MinRatingChange *float64 `yaml:"min_rating_change,omitempty" json:"min_rating_change,omitempty"`
	MaxRatingChange *float64 `yaml:"max_rating_change,omitempty" json:"max_rating_change,omitempty"`
	MinVolatility   *float64 `yaml:"min_volatility,omitempty" json:"min_volatility,omitempty"`
	MaxVolatility   *float64 `yaml:"max_volatility,omitempty" json:"max_volatility,omitempty"`

	MinGlobalRating *float64 `yaml:"min_global_rating,omitempty" json:"min_global_rating,omitempty"`
	MaxGlobalRating *float64 `yaml:"max_global_rating,omitempty" json:"max_global_rating,omitempty"`

	Pairs []string `yaml:"pairs,omitempty" json:"pairs,omitempty"`

	MinAge          *float64 `yaml:"min_age,omitempty" json:"min_age,omitempty"`
	MaxAge          *float64 `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	MinLastBuyAge   *float64 `yaml:"min_last_buy_age,omitempty" json:"min_last_buy_age,omitempty"`
	MaxLastBuyAge   *float64 `yaml:"max_last_buy_age,omitempty" json:"max_last_buy_age,omitempty"`
	MinMargin       *float64 `yaml:"min_margin,omitempty" json:"min_margin,omitempty"`
	MaxMargin       *float64 `yaml:"max_margin,omitempty" json:"max_margin,omitempty"`
	MinMarginChange *float64 `yaml:"min_margin_change,omitempty" json:"min_margin_change,omitempty"`
	MaxMarginChange *float64 `yaml:"max_margin_change,omitempty" json:"max_margin_change,omitempty"`
	MinAmount       *float64 `yaml:"min_amount,omitempty" json:"min_amount,omitempty"`
	MaxAmount       *float64 `yaml:"max_amount,omitempty" json:"max_amount,omitempty"`
	MinCost         *float64 `yaml:"min_cost,omitempty" json:"min_cost,omitempty"`
	MaxCost         *float64 `yaml:"max_cost,omitempty" json:"max_cost,omitempty"`
	MinDCALevel     *int     `yaml:"min_dca_level,omitempty" json:"min_dca_level,omitempty"`
	MaxDCALevel     *int     `yaml:"max_dca_level,omitempty" json:"max_dca_level,omitempty"`

	SignalRules []string `yaml:"signal_rules,omitempty" json:"signal_rules,omitempty"`
}

// PositionState is the position snapshot a condition can test.
type PositionState struct {
	FirstBuy      time.Time
	LastBuy       time.Time
	Margin        float64
	// Unpriced marks Margin as unknown; margin bounds then fail.
	Unpriced      bool
	LastBuyMargin *float64
	Amount        float64
	Cost          float64
	DCALevel      int
	SignalRule    string
}

// Input is everything a condition list is evaluated against.
type Input struct {
	Pair         string
	Signals      map[string]signals.Signal
	GlobalRating *float64
	Position     *PositionState
	Now          time.Time
	Speed        clock.Speed
}

// Matches reports whether every condition holds for in. An empty list
// matches.
func Matches(conditions []Condition, in Input) bool {
	for i := range conditions {
		if !conditions[i].Matches(in) {
			return false
		}
	}
	return true
}

// Matches reports whether every bound of c holds for in. Evaluation stops
// at the first failing bound.
func (c *Condition) Matches(in Input) bool {
	if c.hasSignalBounds() {
		s, ok := in.Signals[c.Signal]
		if c.Signal == "" || !ok {
			return false
		}
		if !within(s.Volume, c.MinVolume, c.MaxVolume) ||
			!within(s.VolumeChange, c.MinVolumeChange, c.MaxVolumeChange) ||
			!within(s.Price, c.MinPrice, c.MaxPrice) ||
			!within(s.PriceChange, c.MinPriceChange, c.MaxPriceChange) ||
			!within(s.Rating, c.MinRating, c.MaxRating) ||
			!within(s.RatingChange, c.MinRatingChange, c.MaxRatingChange) ||
			!within(s.Volatility, c.MinVolatility, c.MaxVolatility) {
			return false
		}
	} else if c.Signal != "" {
		if _, ok := in.Signals[c.Signal]; !ok {
			return false
		}
	}

	if !within(in.GlobalRating, c.MinGlobalRating, c.MaxGlobalRating) {
		return false
	}

	if len(c.Pairs) > 0 && !contains(c.Pairs, in.Pair) {
		return false
	}

	if !c.hasPositionBounds() {
		return true
	}
	p := in.Position
	if p == nil {
		return false
	}

	age := in.Now.Sub(p.FirstBuy)
	if !withinAge(age, c.MinAge, c.MaxAge, in.Speed) {
		return false
	}
	lastBuyAge := in.Now.Sub(p.LastBuy)
	if !withinAge(lastBuyAge, c.MinLastBuyAge, c.MaxLastBuyAge, in.Speed) {
		return false
	}
	var margin *float64
	if !p.Unpriced {
		margin = &p.Margin
	}
	if !within(margin, c.MinMargin, c.MaxMargin) {
		return false
	}
	if c.MinMarginChange != nil || c.MaxMarginChange != nil {
		if margin == nil || p.LastBuyMargin == nil {
			return false
		}
		change := p.Margin - *p.LastBuyMargin
		if !within(&change, c.MinMarginChange, c.MaxMarginChange) {
			return false
		}
	}
	if !within(&p.Amount, c.MinAmount, c.MaxAmount) ||
		!within(&p.Cost, c.MinCost, c.MaxCost) {
		return false
	}
	if c.MinDCALevel != nil && p.DCALevel < *c.MinDCALevel {
		return false
	}
	if c.MaxDCALevel != nil && p.DCALevel > *c.MaxDCALevel {
		return false
	}
	if len(c.SignalRules) > 0 && !contains(c.SignalRules, p.SignalRule) {
		return false
	}
	return true
}

func (c *Condition) hasSignalBounds() bool {
	return c.MinVolume != nil || c.MaxVolume != nil ||
		c.MinVolumeChange != nil || c.MaxVolumeChange != nil ||
		c.MinPrice != nil || c.MaxPrice != nil ||
		c.MinPriceChange != nil || c.MaxPriceChange != nil ||
		c.MinRating != nil || c.MaxRating != nil ||
		c.MinRatingChange != nil || c.MaxRatingChange != nil ||
		c.MinVolatility != nil || c.MaxVolatility != nil
}

func (c *Condition) hasPositionBounds() bool {
	return c.MinAge != nil || c.MaxAge != nil ||
		c.MinLastBuyAge != nil || c.MaxLastBuyAge != nil ||
		c.MinMargin != nil || c.MaxMargin != nil ||
		c.MinMarginChange != nil || c.MaxMarginChange != nil ||
		c.MinAmount != nil || c.MaxAmount != nil ||
		c.MinCost != nil || c.MaxCost != nil ||
		c.MinDCALevel != nil || c.MaxDCALevel != nil ||
		len(c.SignalRules) > 0
}

// within checks v against optional inclusive bounds. Unset bounds pass; a
// set bound on a nil value fails.
func within(v, lo, hi *float64) bool {
	if lo == nil && hi == nil {
		return true
	}
	if v == nil {
		return false
	}
	if lo != nil && *v < *lo {
		return false
	}
	if hi != nil && *v > *hi {
		return false
	}
	return true
}

func withinAge(age time.Duration, lo, hi *float64, speed clock.Speed) bool {
	if lo != nil && age < speed.Seconds(*lo) {
		return false
	}
	if hi != nil && age > speed.Seconds(*hi) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
