package trading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/ledger"
	"github.com/atmx/trade-engine/internal/metrics"
	"github.com/atmx/trade-engine/internal/model"
	"github.com/atmx/trade-engine/internal/policy"
	"github.com/atmx/trade-engine/internal/trailing"
)

// BuyOptions describes a buy request. Exactly one of Amount and MaxCost is
// set; automatic buys take MaxCost from the policy. Market places the
// order on another quote market of the same base currency.
type BuyOptions struct {
	Pair           string           `json:"pair"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	MaxCost        *decimal.Decimal `json:"max_cost,omitempty"`
	IgnoreExisting bool             `json:"ignore_existing,omitempty"`
	ManualOrder    bool             `json:"manual_order,omitempty"`
	Swap           bool             `json:"swap,omitempty"`
	Market         string           `json:"market,omitempty"`
	Metadata       ledger.Metadata  `json:"metadata"`
}

// SellOptions describes a sell request. A nil Amount sells the whole
// position.
type SellOptions struct {
	Pair        string           `json:"pair"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	ManualOrder bool             `json:"manual_order,omitempty"`
	Swap        bool             `json:"swap,omitempty"`
	SwapPair    string           `json:"swap_pair,omitempty"`
	StopLoss    bool             `json:"stop_loss,omitempty"`
	Market      string           `json:"market,omitempty"`
}

// SwapOptions replaces the position in OldPair with one in NewPair.
type SwapOptions struct {
	OldPair     string          `json:"old_pair"`
	NewPair     string          `json:"new_pair"`
	ManualOrder bool            `json:"manual_order,omitempty"`
	Metadata    ledger.Metadata `json:"metadata"`
}

// Buy buys or starts a trailing buy. The message explains the outcome.
func (s *Service) Buy(ctx context.Context, opts BuyOptions) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buy(ctx, opts)
}

// Sell sells or starts a trailing sell.
func (s *Service) Sell(ctx context.Context, opts SellOptions) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sell(ctx, opts)
}

// Swap sells OldPair and buys NewPair with the proceeds.
func (s *Service) Swap(ctx context.Context, opts SwapOptions) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swap(ctx, opts)
}

func (s *Service) buy(ctx context.Context, opts BuyOptions) (bool, string) {
	s.trails.CancelSell(opts.Pair)

	pol := s.resolver.Policy(opts.Pair)
	if reason := s.canBuy(opts, pol); reason != "" {
		return s.reject(exchange.Buy, opts.Pair, reason)
	}
	if opts.ManualOrder || opts.Swap || pol.BuyTrailing == 0 {
		return s.placeBuy(ctx, opts)
	}

	if s.trails.IsTrailingBuy(opts.Pair) {
		return s.reject(exchange.Buy, opts.Pair, "already trailing")
	}
	price, err := s.exchange.Price(ctx, opts.Pair, exchange.Buy)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "price unavailable", err)
	}
	info := trailing.NewInfo(opts, math.Abs(pol.BuyTrailing), pol.BuyTrailingStopMargin,
		pol.BuyTrailingStopAction, price.InexactFloat64(), 0, s.clock.Now())
	s.trails.StartBuy(opts.Pair, info)
	s.logger.Info("trailing buy started",
		zap.String("pair", opts.Pair),
		zap.String("price", price.String()),
		zap.Float64("distance", info.Distance),
	)
	s.notify(model.EventTrailStart, opts.Pair, "buy", info)
	return true, fmt.Sprintf("trailing buy started for %s at %s", opts.Pair, price)
}

// canBuy returns the reason a buy is not allowed, or "".
func (s *Service) canBuy(opts BuyOptions, pol *policy.Policy) string {
	auto := !opts.ManualOrder && !opts.Swap
	pos, held := s.account.Position(opts.Pair)
	now := s.clock.Now()

	switch {
	case opts.Amount != nil && opts.MaxCost != nil:
		return "ambiguous amount: set amount or max cost, not both"
	case opts.Amount == nil && opts.MaxCost == nil:
		return "ambiguous amount: set amount or max cost"
	case auto && s.IsSuspended():
		return "trading suspended"
	case auto && !pol.BuyEnabled:
		return "buying not enabled"
	case !opts.ManualOrder && pol.Excluded:
		return "pair excluded"
	case held && !opts.IgnoreExisting:
		return "position already exists"
	case !held && auto && pol.MaxPairs > 0 && s.account.PositionCount() >= pol.MaxPairs:
		return "maximum pairs reached"
	case auto && pol.BuyMinBalance > 0 && s.account.Balance().InexactFloat64() < pol.BuyMinBalance:
		return "minimum balance reached"
	}

	if auto && pol.BuySamePairTimeout > 0 {
		last, ok := s.lastBuy[opts.Pair]
		if held && pos.LastBuy().After(last) {
			last, ok = pos.LastBuy(), true
		}
		if ok && now.Sub(last) < pol.BuySamePairTimeout {
			return "same pair timeout"
		}
	}
	return ""
}

func (s *Service) placeBuy(ctx context.Context, opts BuyOptions) (bool, string) {
	start := time.Now()
	pol := s.resolver.Policy(opts.Pair)
	if reason := s.canBuy(opts, pol); reason != "" {
		return s.reject(exchange.Buy, opts.Pair, reason)
	}
	pos, held := s.account.Position(opts.Pair)

	orderPair, err := s.orderPair(opts.Pair, opts.Market)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "invalid market", err)
	}
	price, err := s.exchange.Price(ctx, orderPair, exchange.Buy)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "price unavailable", err)
	}
	if !price.IsPositive() {
		return s.reject(exchange.Buy, opts.Pair, "invalid price")
	}
	rate, err := s.marketRate(ctx, orderPair, exchange.Buy)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "market conversion failed", err)
	}
	accountPrice := price.Mul(rate)

	var amount decimal.Decimal
	if opts.Amount != nil {
		amount = *opts.Amount
	} else {
		amount = opts.MaxCost.Div(accountPrice)
	}
	amount = s.exchange.ClampAmount(orderPair, amount)
	if !amount.IsPositive() {
		return s.reject(exchange.Buy, opts.Pair, "amount below exchange precision")
	}

	cost := amount.Mul(accountPrice)
	if !opts.ManualOrder && pol.MinCost > 0 && cost.InexactFloat64() < pol.MinCost {
		return s.reject(exchange.Buy, opts.Pair, fmt.Sprintf("cost %s below minimum %g", cost, pol.MinCost))
	}
	if cost.GreaterThan(s.account.Balance()) {
		return s.reject(exchange.Buy, opts.Pair, "not enough balance")
	}
	if s.limiter != nil && !opts.Swap {
		if err := s.limiter.CheckLimit(opts.Pair, cost, s.heldCosts()); err != nil {
			return s.reject(exchange.Buy, opts.Pair, err.Error())
		}
	}

	order := exchange.Order{
		Pair:   orderPair,
		Side:   exchange.Buy,
		Type:   exchange.Market,
		Amount: amount,
		Price:  s.exchange.ClampPrice(orderPair, price),
	}
	details, err := s.submit(ctx, order, price)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "order failed", err)
	}
	details, err = s.normalize(ctx, details)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "fill conversion failed", err)
	}

	meta := opts.Metadata
	if meta.TradingRules == nil && len(pol.MatchedRules) > 0 {
		meta.TradingRules = append([]string(nil), pol.MatchedRules...)
	}
	if orderPair != opts.Pair && meta.ArbitrageMarket == "" {
		meta.ArbitrageMarket = opts.Market
	}
	if held && pos.Priced() && meta.LastBuyMargin == nil {
		m := pos.Margin()
		meta.LastBuyMargin = &m
	}

	fill, err := ledger.NewFill(ctx, details, s.market, s.conv, meta)
	if err != nil {
		return s.fault(exchange.Buy, opts.Pair, "invalid fill", err)
	}
	if err := s.account.ApplyBuy(fill); err != nil {
		return s.fault(exchange.Buy, opts.Pair, "ledger update failed", err)
	}
	s.lastBuy[opts.Pair] = fill.Date
	saved := s.persist(ctx)

	metrics.TradesTotal.WithLabelValues(string(exchange.Buy)).Inc()
	metrics.TradeLatency.WithLabelValues(string(exchange.Buy)).Observe(time.Since(start).Seconds())
	s.resolver.Refresh(opts.Pair)
	s.updateGauges()

	msg := fmt.Sprintf("bought %s %s at %s", fill.Amount, opts.Pair, fill.Price)
	s.logger.Info("buy filled",
		zap.String("pair", opts.Pair),
		zap.String("order_id", fill.OrderID),
		zap.String("amount", fill.Amount.String()),
		zap.String("price", fill.Price.String()),
		zap.Bool("dca", held),
		zap.Bool("manual", opts.ManualOrder),
	)
	if p, ok := s.account.Position(opts.Pair); ok {
		s.notify(model.EventBuy, opts.Pair, msg, model.NewPositionView(p))
	}
	return true, msg + saved
}

// policyCost is the cost ceiling the policy gives an automatic buy, in
// the account market. A DCA buy scales the position's actual cost.
func policyCost(pol *policy.Policy, pos ledger.Position, held bool) *decimal.Decimal {
	var c decimal.Decimal
	if held {
		mult := pol.BuyMultiplier
		if mult == 0 {
			mult = 1
		}
		c = pos.ActualCost().Mul(decimal.NewFromFloat(mult))
	} else {
		c = decimal.NewFromFloat(pol.EffectiveBuyMaxCost())
	}
	return &c
}

func (s *Service) sell(ctx context.Context, opts SellOptions) (bool, string) {
	s.trails.CancelBuy(opts.Pair)

	pol := s.resolver.Policy(opts.Pair)
	pos, held := s.account.Position(opts.Pair)
	if reason := s.canSell(opts, pol, pos, held); reason != "" {
		return s.reject(exchange.Sell, opts.Pair, reason)
	}
	if opts.ManualOrder || opts.Swap || opts.StopLoss || pol.SellTrailing == 0 {
		_, ok, msg := s.placeSell(ctx, opts)
		return ok, msg
	}

	if s.trails.IsTrailingSell(opts.Pair) {
		return s.reject(exchange.Sell, opts.Pair, "already trailing")
	}
	margin := pos.Margin()
	info := trailing.NewInfo(opts, math.Abs(pol.SellTrailing), pol.SellTrailingStopMargin,
		pol.SellTrailingStopAction, pos.CurrentPrice.InexactFloat64(), margin, s.clock.Now())
	s.trails.StartSell(opts.Pair, info)
	s.logger.Info("trailing sell started",
		zap.String("pair", opts.Pair),
		zap.Float64("margin", margin),
		zap.Float64("distance", info.Distance),
	)
	s.notify(model.EventTrailStart, opts.Pair, "sell", info)
	return true, fmt.Sprintf("trailing sell started for %s at margin %.2f%%", opts.Pair, margin)
}

func (s *Service) canSell(opts SellOptions, pol *policy.Policy, pos ledger.Position, held bool) string {
	auto := !opts.ManualOrder && !opts.Swap
	switch {
	case !held:
		return "no position"
	case auto && s.IsSuspended():
		return "trading suspended"
	case auto && !opts.StopLoss && !pol.SellEnabled:
		return "selling not enabled"
	case auto && !opts.StopLoss && pol.SellTimeout > 0 && s.clock.Now().Sub(pos.LastBuy()) < pol.SellTimeout:
		return "sell timeout"
	}
	return ""
}

func (s *Service) placeSell(ctx context.Context, opts SellOptions) (ledger.TradeResult, bool, string) {
	start := time.Now()
	pol := s.resolver.Policy(opts.Pair)
	pos, held := s.account.Position(opts.Pair)
	if reason := s.canSell(opts, pol, pos, held); reason != "" {
		ok, msg := s.reject(exchange.Sell, opts.Pair, reason)
		return ledger.TradeResult{}, ok, msg
	}

	orderPair, err := s.orderPair(opts.Pair, opts.Market)
	if err != nil {
		ok, msg := s.fault(exchange.Sell, opts.Pair, "invalid market", err)
		return ledger.TradeResult{}, ok, msg
	}
	amount := pos.Amount()
	if opts.Amount != nil && opts.Amount.LessThan(amount) {
		amount = *opts.Amount
	}
	amount = s.exchange.ClampAmount(orderPair, amount)
	if !amount.IsPositive() {
		ok, msg := s.reject(exchange.Sell, opts.Pair, "amount below exchange precision")
		return ledger.TradeResult{}, ok, msg
	}
	price, err := s.exchange.Price(ctx, orderPair, exchange.Sell)
	if err != nil {
		ok, msg := s.fault(exchange.Sell, opts.Pair, "price unavailable", err)
		return ledger.TradeResult{}, ok, msg
	}

	order := exchange.Order{
		Pair:   orderPair,
		Side:   exchange.Sell,
		Type:   exchange.Market,
		Amount: amount,
		Price:  s.exchange.ClampPrice(orderPair, price),
	}
	details, err := s.submit(ctx, order, price)
	if err != nil {
		ok, msg := s.fault(exchange.Sell, opts.Pair, "order failed", err)
		return ledger.TradeResult{}, ok, msg
	}
	details, err = s.normalize(ctx, details)
	if err != nil {
		ok, msg := s.fault(exchange.Sell, opts.Pair, "fill conversion failed", err)
		return ledger.TradeResult{}, ok, msg
	}
	fill, err := ledger.NewFill(ctx, details, s.market, s.conv, ledger.Metadata{SwapPair: opts.SwapPair})
	if err != nil {
		ok, msg := s.fault(exchange.Sell, opts.Pair, "invalid fill", err)
		return ledger.TradeResult{}, ok, msg
	}
	result, err := s.account.ApplySell(fill)
	if err != nil {
		ok, msg := s.fault(exchange.Sell, opts.Pair, "ledger update failed", err)
		return ledger.TradeResult{}, ok, msg
	}

	if result.IsSuccessful {
		err := s.journal.Record(ctx, result)
		s.health.Report("journal", err)
		if err != nil {
			s.logger.Error("journal record failed", zap.String("pair", opts.Pair), zap.Error(err))
		}
	}
	saved := s.persist(ctx)

	metrics.TradesTotal.WithLabelValues(string(exchange.Sell)).Inc()
	metrics.TradeLatency.WithLabelValues(string(exchange.Sell)).Observe(time.Since(start).Seconds())
	metrics.RealizedProfit.Add(result.Profit.InexactFloat64())
	s.resolver.Refresh(opts.Pair)
	s.updateGauges()

	msg := fmt.Sprintf("sold %s %s at %s, profit %s (%.2f%%)",
		fill.Amount, opts.Pair, fill.Price, result.Profit.StringFixed(8), result.Margin())
	s.logger.Info("sell filled",
		zap.String("pair", opts.Pair),
		zap.String("order_id", fill.OrderID),
		zap.String("amount", fill.Amount.String()),
		zap.String("price", fill.Price.String()),
		zap.String("profit", result.Profit.String()),
		zap.Bool("stop_loss", opts.StopLoss),
		zap.Bool("manual", opts.ManualOrder),
	)
	s.notify(model.EventSell, opts.Pair, msg, result)
	return result, true, msg + saved
}

func (s *Service) swap(ctx context.Context, opts SwapOptions) (bool, string) {
	pol := s.resolver.Policy(opts.OldPair)
	_, held := s.account.Position(opts.OldPair)
	_, heldNew := s.account.Position(opts.NewPair)
	switch {
	case !opts.ManualOrder && s.IsSuspended():
		return s.reject(exchange.Sell, opts.OldPair, "trading suspended")
	case !opts.ManualOrder && !pol.SwapEnabled:
		return s.reject(exchange.Sell, opts.OldPair, "swapping not enabled")
	case !held:
		return s.reject(exchange.Sell, opts.OldPair, "no position")
	case heldNew:
		return s.reject(exchange.Buy, opts.NewPair, "position already exists")
	case opts.OldPair == opts.NewPair:
		return s.reject(exchange.Buy, opts.NewPair, "cannot swap a pair for itself")
	}

	s.trails.CancelSell(opts.OldPair)
	s.trails.CancelBuy(opts.NewPair)

	result, ok, msg := s.placeSell(ctx, SellOptions{
		Pair:        opts.OldPair,
		ManualOrder: opts.ManualOrder,
		Swap:        true,
		SwapPair:    opts.NewPair,
	})
	if !ok {
		return false, "swap sell failed: " + msg
	}
	if _, still := s.account.Position(opts.OldPair); still {
		s.logger.Warn("swap aborted, position not fully closed", zap.String("pair", opts.OldPair))
		return false, fmt.Sprintf("swap aborted: %s not fully sold", opts.OldPair)
	}

	proceeds := result.BalanceDifference
	costs := result.Profit.Neg()
	levels := result.DCALevel
	meta := opts.Metadata
	meta.SwapPair = opts.OldPair
	meta.AdditionalCosts = &costs
	meta.AdditionalDCALevels = &levels

	ok, buyMsg := s.placeBuy(ctx, BuyOptions{
		Pair:        opts.NewPair,
		MaxCost:     &proceeds,
		ManualOrder: opts.ManualOrder,
		Swap:        true,
		Metadata:    meta,
	})
	if !ok {
		s.logger.Error("swap buy failed after sell",
			zap.String("old_pair", opts.OldPair),
			zap.String("new_pair", opts.NewPair),
			zap.String("reason", buyMsg),
		)
		s.notify(model.EventError, opts.NewPair, "swap buy failed: "+buyMsg, nil)
		return false, "swap buy failed: " + buyMsg
	}

	out := fmt.Sprintf("swapped %s for %s", opts.OldPair, opts.NewPair)
	s.notify(model.EventSwap, opts.NewPair, out, result)
	return true, out
}

func (s *Service) submit(ctx context.Context, order exchange.Order, price decimal.Decimal) (exchange.OrderDetails, error) {
	var (
		d   exchange.OrderDetails
		err error
	)
	if s.virtual {
		d = exchange.Simulate(order, price, s.feeRate, s.clock.Now())
	} else {
		d, err = s.exchange.PlaceOrder(ctx, order)
		if err != nil {
			return d, err
		}
	}
	if !d.IsFilled() {
		return d, fmt.Errorf("%w: %s %s", ledger.ErrNotFilled, d.OrderID, d.Result)
	}
	return d, nil
}

// persist saves the account. A failed save after a fill leaves the ledger
// ahead of storage, so trading is suspended until an operator resumes it.
func (s *Service) persist(ctx context.Context) string {
	err := s.account.Save(ctx)
	s.health.Report("account:save", err)
	if err == nil {
		return ""
	}
	s.logger.Error("account save failed", zap.Error(err))
	s.notify(model.EventError, "", "account save failed: "+err.Error(), nil)
	s.Suspend("account save failed")
	return "; trading suspended: account save failed"
}

func (s *Service) reject(side exchange.Side, pair, reason string) (bool, string) {
	metrics.Rejections.WithLabelValues(string(side)).Inc()
	s.logger.Debug("order rejected",
		zap.String("side", string(side)),
		zap.String("pair", pair),
		zap.String("reason", reason),
	)
	return false, reason
}

func (s *Service) fault(side exchange.Side, pair, reason string, err error) (bool, string) {
	metrics.ExecutionFaults.WithLabelValues(string(side)).Inc()
	s.logger.Error("order failed",
		zap.String("side", string(side)),
		zap.String("pair", pair),
		zap.String("reason", reason),
		zap.Error(err),
	)
	msg := fmt.Sprintf("%s: %v", reason, err)
	s.notify(model.EventError, pair, msg, nil)
	return false, msg
}
