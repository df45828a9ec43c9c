package policy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/clock"
	"github.com/atmx/trade-engine/internal/rules"
	"github.com/atmx/trade-engine/internal/signals"
)

// Positions exposes the position state the resolver folds rules against.
type Positions interface {
	PositionState(pair string) *rules.PositionState
}

// Resolver computes per-pair policies. A pass replaces the whole cache;
// readers between passes see the previous pass's policies.
type Resolver struct {
	trading   rules.Trading
	module    rules.Module
	signals   signals.Source
	positions Positions
	clock     clock.Clock
	speed     clock.Speed
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Policy
}

// Config wires a Resolver.
type Config struct {
	Trading   rules.Trading
	Rules     rules.Module
	Signals   signals.Source
	Positions Positions
	Clock     clock.Clock
	Speed     clock.Speed
	Logger    *zap.Logger
}

// NewResolver creates a resolver with an empty cache.
func NewResolver(cfg Config) *Resolver {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		trading:   cfg.Trading,
		module:    cfg.Rules,
		signals:   cfg.Signals,
		positions: cfg.Positions,
		clock:     cfg.Clock,
		speed:     cfg.Speed,
		logger:    cfg.Logger,
		cache:     make(map[string]*Policy),
	}
}

// Trading returns the base trading configuration.
func (r *Resolver) Trading() rules.Trading { return r.trading }

// Speed returns the dilation factor policies are computed with.
func (r *Resolver) Speed() clock.Speed { return r.speed }

// ResolveAll recomputes the policy of every pair and swaps the cache.
func (r *Resolver) ResolveAll(ctx context.Context, pairs []string) error {
	next := make(map[string]*Policy, len(pairs))
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		next[pair] = r.Resolve(pair)
	}

	r.mu.Lock()
	r.cache = next
	r.mu.Unlock()

	r.logger.Debug("policies resolved", zap.Int("pairs", len(next)))
	return nil
}

// Policy returns the cached policy for pair, resolving and caching it
// when the last pass did not cover it.
func (r *Resolver) Policy(pair string) *Policy {
	r.mu.RLock()
	p, ok := r.cache[pair]
	r.mu.RUnlock()
	if ok {
		return p
	}

	p = r.Resolve(pair)
	r.mu.Lock()
	r.cache[pair] = p
	r.mu.Unlock()
	return p
}

// Refresh re-resolves a single pair and updates its cache entry.
func (r *Resolver) Refresh(pair string) *Policy {
	p := r.Resolve(pair)
	r.mu.Lock()
	r.cache[pair] = p
	r.mu.Unlock()
	return p
}

// Policies returns a copy of the cache.
func (r *Resolver) Policies() map[string]*Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Policy, len(r.cache))
	for k, v := range r.cache {
		out[k] = v
	}
	return out
}

// Input builds the condition input for pair from the current signals,
// global rating and position.
func (r *Resolver) Input(pair string) rules.Input {
	in := rules.Input{
		Pair:  pair,
		Now:   r.clock.Now(),
		Speed: r.speed,
	}
	if r.signals != nil {
		in.Signals = r.signals.SignalsByPair(pair)
		in.GlobalRating = r.signals.GlobalRating()
	}
	if r.positions != nil {
		in.Position = r.positions.PositionState(pair)
	}
	return in
}

// Resolve computes the policy for pair without touching the cache.
func (r *Resolver) Resolve(pair string) *Policy {
	in := r.Input(pair)

	t := r.trading
	var matched []string
	for _, rule := range r.module.EnabledRules() {
		if !rules.Matches(rule.Conditions, in) {
			continue
		}
		t = rule.Modifiers.Apply(t)
		matched = append(matched, rule.Name)
		if r.module.FirstMatch() {
			break
		}
	}

	return build(pair, t, matched, in.Position, r.speed)
}

func build(pair string, t rules.Trading, matched []string, pos *rules.PositionState, speed clock.Speed) *Policy {
	p := &Policy{
		Pair:         pair,
		MatchedRules: matched,
		HasPosition:  pos != nil,
		MaxPairs:     t.MaxPairs,
		MinCost:      t.MinCost,
		Excluded:     contains(t.ExcludedPairs, pair),
		BuyMaxCost:   t.BuyMaxCost,

		SellEnabled: t.SellEnabled,
		SellTimeout: speed.Seconds(t.SellTimeout),

		SellStopLossEnabled:  t.SellStopLossEnabled,
		SellStopLossAfterDCA: t.SellStopLossAfterDCA,
		SellStopLossMinAge:   speed.Seconds(t.SellStopLossMinAge),
		SellStopLossMargin:   t.SellStopLossMargin,

		RepeatLastDCALevel: t.RepeatLastDCALevel,

		SwapEnabled:     t.SwapEnabled,
		SwapSignalRules: t.SwapSignalRules,
		SwapTimeout:     speed.Seconds(t.SwapTimeout),

		ArbitrageEnabled:       t.ArbitrageEnabled,
		ArbitrageMarkets:       t.ArbitrageMarkets,
		ArbitrageBuyMultiplier: t.ArbitrageBuyMultiplier,
		ArbitrageSellMargin:    t.ArbitrageSellMargin,
		ArbitrageSignalRules:   t.ArbitrageSignalRules,
	}

	if pos != nil {
		p.DCALevel = pos.DCALevel
	}
	p.CurrentDCALevel, p.NextDCALevel = tiers(t.DCALevels, t.RepeatLastDCALevel, pos)

	if pos == nil {
		p.BuyEnabled = t.BuyEnabled
		p.BuyMultiplier = t.BuyMultiplier
		p.BuyMinBalance = t.BuyMinBalance
		p.BuySamePairTimeout = speed.Seconds(t.BuySamePairTimeout)
		p.BuyTrailing = t.BuyTrailing
		p.BuyTrailingStopMargin = t.BuyTrailingStopMargin
		p.BuyTrailingStopAction = t.BuyTrailingStopAction
	} else {
		multiplier := t.BuyDCAMultiplier
		timeout := t.BuyDCASamePairTimeout
		trailing := t.BuyDCATrailing
		stopMargin := t.BuyDCATrailingStopMargin
		stopAction := t.BuyDCATrailingStopAction
		if n := p.NextDCALevel; n != nil {
			pick(&multiplier, n.BuyMultiplier)
			pick(&timeout, n.BuySamePairTimeout)
			pick(&trailing, n.BuyTrailing)
			pick(&stopMargin, n.BuyTrailingStopMargin)
			pick(&stopAction, n.BuyTrailingStopAction)
		}
		p.BuyEnabled = t.BuyDCAEnabled
		p.BuyMultiplier = multiplier
		p.BuyMinBalance = t.BuyDCAMinBalance
		p.BuySamePairTimeout = speed.Seconds(timeout)
		p.BuyTrailing = trailing
		p.BuyTrailingStopMargin = stopMargin
		p.BuyTrailingStopAction = stopAction
	}

	switch {
	case p.CurrentDCALevel != nil:
		c := p.CurrentDCALevel
		p.SellMargin = t.SellDCAMargin
		p.SellTrailing = t.SellDCATrailing
		p.SellTrailingStopMargin = t.SellDCATrailingStopMargin
		p.SellTrailingStopAction = t.SellDCATrailingStopAction
		pick(&p.SellMargin, c.SellMargin)
		pick(&p.SellTrailing, c.SellTrailing)
		pick(&p.SellTrailingStopMargin, c.SellTrailingStopMargin)
		pick(&p.SellTrailingStopAction, c.SellTrailingStopAction)
	case pos != nil && pos.DCALevel > 0:
		p.SellMargin = t.SellDCAMargin
		p.SellTrailing = t.SellDCATrailing
		p.SellTrailingStopMargin = t.SellDCATrailingStopMargin
		p.SellTrailingStopAction = t.SellDCATrailingStopAction
	default:
		p.SellMargin = t.SellMargin
		p.SellTrailing = t.SellTrailing
		p.SellTrailingStopMargin = t.SellTrailingStopMargin
		p.SellTrailingStopAction = t.SellTrailingStopAction
	}
	return p
}

// tiers returns the current and next DCA level for a position.
func tiers(levels []rules.DCALevel, repeat bool, pos *rules.PositionState) (current, next *rules.DCALevel) {
	if pos == nil || len(levels) == 0 {
		return nil, nil
	}
	dca := pos.DCALevel
	if dca > 0 && dca <= len(levels) {
		l := levels[dca-1]
		current = &l
	}
	switch {
	case dca < len(levels):
		l := levels[dca]
		next = &l
	case repeat:
		l := levels[len(levels)-1]
		next = &l
	}
	return current, next
}

func pick[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
