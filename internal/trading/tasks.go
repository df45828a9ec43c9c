package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/ledger"
	"github.com/atmx/trade-engine/internal/model"
	"github.com/atmx/trade-engine/internal/policy"
	"github.com/atmx/trade-engine/internal/rules"
	"github.com/atmx/trade-engine/internal/scheduler"
	"github.com/atmx/trade-engine/internal/trailing"
)

// Intervals configures the service's periodic tasks. A zero interval
// leaves the task out.
type Intervals struct {
	Trading        time.Duration
	SignalRules    time.Duration
	Rules          time.Duration
	AccountRefresh time.Duration
	StartDelay     time.Duration
}

// Tasks returns the scheduler tasks driving the service.
func (s *Service) Tasks(iv Intervals) []scheduler.Task {
	var out []scheduler.Task
	add := func(name string, every time.Duration, run scheduler.TaskFunc) {
		if every > 0 {
			out = append(out, scheduler.Task{Name: name, Interval: every, StartDelay: iv.StartDelay, Run: run})
		}
	}
	add("rules", iv.Rules, s.ResolveRules)
	add("signal-rules", iv.SignalRules, s.SignalRulesTick)
	add("trading", iv.Trading, s.TradingTick)
	if !s.virtual {
		add("account-refresh", iv.AccountRefresh, s.RefreshAccount)
	}
	return out
}

// TradingTick updates prices, advances trailing entries and checks every
// position for sell, stop-loss, DCA and swap triggers.
func (s *Service) TradingTick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.updatePrices(ctx)
	s.advanceBuys(ctx)
	s.advanceSells(ctx)
	for _, pos := range s.account.Positions() {
		if ctx.Err() != nil {
			break
		}
		s.checkPosition(ctx, pos)
	}
	s.updateGauges()
	return err
}

func (s *Service) updatePrices(ctx context.Context) error {
	var errs []error
	for _, pos := range s.account.Positions() {
		price, err := s.exchange.Price(ctx, pos.Pair, exchange.Sell)
		if err != nil {
			errs = append(errs, fmt.Errorf("price %s: %w", pos.Pair, err))
			continue
		}
		spread, err := s.exchange.Spread(ctx, pos.Pair)
		if err != nil {
			errs = append(errs, fmt.Errorf("spread %s: %w", pos.Pair, err))
		}
		s.account.SetCurrentPrice(pos.Pair, price, spread)
	}
	return errors.Join(errs...)
}

func (s *Service) advanceBuys(ctx context.Context) {
	buys, _ := s.trails.Snapshot()
	for _, pair := range sortedKeys(buys) {
		info := buys[pair]
		price, err := s.exchange.Price(ctx, pair, exchange.Buy)
		if err != nil {
			s.logger.Warn("trailing buy price unavailable", zap.String("pair", pair), zap.Error(err))
			continue
		}
		pol := s.resolver.Policy(pair)
		enabled := pol.BuyEnabled && !s.IsSuspended()
		margin := trailing.BuyMargin(info.StartPrice, price.InexactFloat64())
		res, outcome := s.trails.AdvanceBuy(pair, margin, enabled)
		s.resolveTrail(pair, exchange.Buy, outcome, res.BestMargin, margin, func() {
			s.placeBuy(ctx, res.Request)
		})
	}
}

func (s *Service) advanceSells(ctx context.Context) {
	_, sells := s.trails.Snapshot()
	for _, pair := range sortedKeys(sells) {
		pos, held := s.account.Position(pair)
		if !held {
			s.trails.CancelSell(pair)
			continue
		}
		if !pos.Priced() {
			continue
		}
		pol := s.resolver.Policy(pair)
		enabled := pol.SellEnabled && !s.IsSuspended()
		margin := pos.Margin()
		res, outcome := s.trails.AdvanceSell(pair, margin, enabled)
		s.resolveTrail(pair, exchange.Sell, outcome, res.BestMargin, margin, func() {
			s.placeSell(ctx, res.Request)
		})
	}
}

func (s *Service) resolveTrail(pair string, side exchange.Side, outcome trailing.Outcome, best, margin float64, execute func()) {
	if outcome != trailing.Execute && outcome != trailing.Abandon {
		return
	}
	s.logger.Info("trailing resolved",
		zap.String("pair", pair),
		zap.String("side", string(side)),
		zap.Stringer("outcome", outcome),
		zap.Float64("best_margin", best),
		zap.Float64("margin", margin),
	)
	s.notify(model.EventTrailEnd, pair, fmt.Sprintf("%s %s", side, outcome), nil)
	if outcome == trailing.Execute {
		execute()
	}
}

func (s *Service) checkPosition(ctx context.Context, pos ledger.Position) {
	pair := pos.Pair
	if s.trails.IsTrailingSell(pair) || s.trails.IsTrailingBuy(pair) || s.IsSuspended() {
		return
	}
	if !pos.Priced() {
		s.logger.Debug("position not priced yet", zap.String("pair", pair))
		return
	}
	pol := s.resolver.Policy(pair)
	margin := pos.Margin()
	age := s.clock.Now().Sub(pos.FirstBuy())

	switch {
	case stopLossHit(pol, margin, age):
		s.logger.Warn("stop loss triggered", zap.String("pair", pair), zap.Float64("margin", margin))
		s.placeSell(ctx, SellOptions{Pair: pair, StopLoss: true})
	case pol.SellEnabled && margin >= pol.SellMargin:
		s.sell(ctx, SellOptions{Pair: pair})
	case pol.BuyEnabled && pol.NextDCAMargin() != nil && margin <= *pol.NextDCAMargin():
		m := margin
		s.buy(ctx, BuyOptions{
			Pair:           pair,
			MaxCost:        policyCost(pol, pos, true),
			IgnoreExisting: true,
			Metadata:       ledger.Metadata{LastBuyMargin: &m},
		})
	case pol.SwapEnabled && age >= pol.SwapTimeout && margin < pol.SellMargin:
		if target := s.swapTarget(ctx, pol); target != "" {
			s.swap(ctx, SwapOptions{OldPair: pair, NewPair: target})
		}
	}
}

func stopLossHit(pol *policy.Policy, margin float64, age time.Duration) bool {
	if !pol.SellStopLossEnabled || margin > pol.SellStopLossMargin || age < pol.SellStopLossMinAge {
		return false
	}
	return !pol.SellStopLossAfterDCA || pol.NextDCALevel == nil
}

// swapTarget returns the first unheld market pair matching one of the
// policy's swap signal rules.
func (s *Service) swapTarget(ctx context.Context, pol *policy.Policy) string {
	if len(pol.SwapSignalRules) == 0 {
		return ""
	}
	pairs, err := s.exchange.MarketPairs(ctx, s.market)
	if err != nil {
		s.logger.Warn("swap candidates unavailable", zap.Error(err))
		return ""
	}
	for _, candidate := range pairs {
		if _, held := s.account.Position(candidate); held || candidate == pol.Pair {
			continue
		}
		if s.trails.IsTrailingBuy(candidate) || s.resolver.Policy(candidate).Excluded {
			continue
		}
		in := s.resolver.Input(candidate)
		for _, name := range pol.SwapSignalRules {
			rule, ok := s.signalRules.Rule(name)
			if ok && rule.Enabled && rules.Matches(rule.Conditions, in) {
				return candidate
			}
		}
	}
	return ""
}

// SignalRulesTick evaluates the signal rules against every unheld market
// pair and buys the pairs whose rule fires.
func (s *Service) SignalRulesTick(ctx context.Context) error {
	pairs, err := s.exchange.MarketPairs(ctx, s.market)
	if err != nil {
		return fmt.Errorf("market pairs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsSuspended() {
		return nil
	}

	now := s.clock.Now()
	enabled := s.signalRules.EnabledRules()
	for _, pair := range pairs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, held := s.account.Position(pair)
		pol := s.resolver.Policy(pair)
		if held || pol.Excluded || !pol.BuyEnabled {
			delete(s.signalTrails, pair)
			continue
		}
		if s.trails.IsTrailingBuy(pair) {
			continue
		}

		in := s.resolver.Input(pair)
		for _, rule := range enabled {
			fired, matched := s.evaluateSignalRule(pair, rule, in, now)
			if fired {
				s.logger.Info("signal rule fired", zap.String("pair", pair), zap.String("rule", rule.Name))
				s.buy(ctx, BuyOptions{
					Pair:     pair,
					MaxCost:  policyCost(pol, ledger.Position{}, false),
					Metadata: signalMetadata(rule, in),
				})
				break
			}
			if matched && s.signalRules.FirstMatch() {
				break
			}
		}
	}
	return nil
}

// evaluateSignalRule reports whether rule fires for pair now, and whether
// it matched at all (fired or trailing).
func (s *Service) evaluateSignalRule(pair string, rule rules.Rule, in rules.Input, now time.Time) (fired, matched bool) {
	tr := rule.Trailing
	if tr == nil || !tr.Enabled {
		ok := rules.Matches(rule.Conditions, in)
		return ok, ok
	}

	speed := s.resolver.Speed()
	st, active := s.signalTrails[pair]
	if active && st.rule != rule.Name {
		return false, false
	}
	if !active {
		if !rules.Matches(tr.StartConditions, in) {
			return false, false
		}
		s.signalTrails[pair] = signalTrail{rule: rule.Name, started: now}
		s.logger.Debug("signal trailing started", zap.String("pair", pair), zap.String("rule", rule.Name))
		return false, true
	}

	elapsed := now.Sub(st.started)
	if tr.MaxDuration > 0 && elapsed > speed.Seconds(tr.MaxDuration) {
		delete(s.signalTrails, pair)
		s.logger.Debug("signal trailing expired", zap.String("pair", pair), zap.String("rule", rule.Name))
		return false, false
	}
	if elapsed < speed.Seconds(tr.MinDuration) {
		return false, true
	}
	if rules.Matches(rule.Conditions, in) {
		delete(s.signalTrails, pair)
		return true, true
	}
	return false, true
}

// signalMetadata records which rule and signals bought a pair.
func signalMetadata(rule rules.Rule, in rules.Input) ledger.Metadata {
	meta := ledger.Metadata{SignalRule: rule.Name, BoughtGlobalRating: in.GlobalRating}
	seen := make(map[string]bool)
	var sum float64
	var n int
	for _, c := range rule.Conditions {
		if c.Signal == "" || seen[c.Signal] {
			continue
		}
		seen[c.Signal] = true
		meta.Signals = append(meta.Signals, c.Signal)
		if sig, ok := in.Signals[c.Signal]; ok && sig.Rating != nil {
			sum += *sig.Rating
			n++
		}
	}
	sort.Strings(meta.Signals)
	if n > 0 {
		avg := sum / float64(n)
		meta.BoughtRating = &avg
	}
	return meta
}

// ResolveRules recomputes the policies of every market pair and every
// held pair.
func (s *Service) ResolveRules(ctx context.Context) error {
	pairs, err := s.exchange.MarketPairs(ctx, s.market)
	if err != nil {
		return fmt.Errorf("market pairs: %w", err)
	}
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		seen[p] = true
	}
	for _, pos := range s.account.Positions() {
		if !seen[pos.Pair] {
			pairs = append(pairs, pos.Pair)
		}
	}
	return s.resolver.ResolveAll(ctx, pairs)
}

// RefreshAccount rebuilds a live account from the exchange.
func (s *Service) RefreshAccount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.account.Refresh(ctx)
	s.health.Report("account:refresh", err)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	s.updateGauges()
	return nil
}
