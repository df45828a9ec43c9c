package trading_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trade-engine/internal/clock"
	"github.com/atmx/trade-engine/internal/correlation"
	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/ledger"
	"github.com/atmx/trade-engine/internal/model"
	"github.com/atmx/trade-engine/internal/policy"
	"github.com/atmx/trade-engine/internal/rules"
	"github.com/atmx/trade-engine/internal/signals"
	"github.com/atmx/trade-engine/internal/store"
	"github.com/atmx/trade-engine/internal/trading"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func f(v float64) *float64       { return &v }

func spend(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// buyOf spends the base policy's max cost on pair.
func buyOf(pair string) trading.BuyOptions {
	return trading.BuyOptions{Pair: pair, MaxCost: spend("0.1")}
}

func eq(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

type events struct {
	mu  sync.Mutex
	all []model.Event
}

func (e *events) Notify(ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.all))
	for _, ev := range e.all {
		out = append(out, ev.Type)
	}
	return out
}

type trades struct {
	mu      sync.Mutex
	results []ledger.TradeResult
}

func (j *trades) Record(_ context.Context, r ledger.TradeResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	return nil
}

func (j *trades) Recent(_ context.Context, limit int) ([]ledger.TradeResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := append([]ledger.TradeResult(nil), j.results...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (j *trades) Close() error { return nil }

type failingStore struct{ err error }

func (s failingStore) SaveAccount(context.Context, string, ledger.Snapshot) error { return s.err }
func (s failingStore) LoadAccount(context.Context, string) (ledger.Snapshot, error) {
	return ledger.Snapshot{}, ledger.ErrSnapshotNotFound
}

type harness struct {
	svc     *trading.Service
	ex      *exchange.Paper
	acc     *ledger.VirtualAccount
	clk     *clock.Manual
	signals *signals.MemorySource
	events  *events
	journal *trades
}

type options struct {
	trading     rules.Trading
	signalRules rules.Module
	persister   ledger.Persister
	limiter     *correlation.PositionLimiter
	feeRate     string
}

func baseTrading() rules.Trading {
	return rules.Trading{
		Market:                 "BTC",
		MaxPairs:               3,
		BuyEnabled:             true,
		BuyMaxCost:             0.1,
		BuyMultiplier:          1,
		BuyDCAEnabled:          true,
		BuyDCAMultiplier:       1,
		SellEnabled:            true,
		SellMargin:             3,
		SellDCAMargin:          3,
		BuyTrailingStopAction:  rules.StopActionAbandon,
		SellTrailingStopAction: rules.StopActionExecute,
	}
}

func newHarness(t *testing.T, o options) *harness {
	t.Helper()
	if o.trading.Market == "" {
		o.trading = baseTrading()
	}
	if o.persister == nil {
		o.persister = store.NewMemoryStore()
	}
	if o.feeRate == "" {
		o.feeRate = "0"
	}

	clk := clock.NewManual(start)
	ex := exchange.NewPaper(clk, d(o.feeRate))
	ex.SetPrice("ETHBTC", d("0.05"))
	ex.SetPrice("LTCBTC", d("0.01"))

	acc := ledger.NewVirtualAccount("paper", "BTC", d("1"), o.persister, nil)
	src := signals.NewMemorySource()
	resolver := policy.NewResolver(policy.Config{
		Trading:   o.trading,
		Signals:   src,
		Positions: acc,
		Clock:     clk,
		Speed:     1,
	})
	ev := &events{}
	j := &trades{}
	svc := trading.NewService(trading.Config{
		Account:     acc,
		Exchange:    ex,
		Resolver:    resolver,
		SignalRules: o.signalRules,
		Journal:     j,
		Notifier:    ev,
		Limiter:     o.limiter,
		Clock:       clk,
		Virtual:     true,
		FeeRate:     d(o.feeRate),
	})
	return &harness{svc: svc, ex: ex, acc: acc, clk: clk, signals: src, events: ev, journal: j}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.TradingTick(context.Background()))
}

func (h *harness) position(t *testing.T, pair string) ledger.Position {
	t.Helper()
	p, ok := h.acc.Position(pair)
	require.True(t, ok, "expected a position in %s", pair)
	return p
}

func TestBuy_ImmediateWithoutTrailing(t *testing.T) {
	h := newHarness(t, options{})

	ok, msg := h.svc.Buy(context.Background(), buyOf("ETHBTC"))
	require.True(t, ok, msg)

	p := h.position(t, "ETHBTC")
	eq(t, "2", p.Amount(), "amount is max cost over price")
	eq(t, "0.05", p.AveragePrice, "average price")
	eq(t, "0.9", h.acc.Balance(), "balance")
	assert.Contains(t, h.events.types(), model.EventBuy)
}

func TestBuy_FeesInMarketCurrency(t *testing.T) {
	h := newHarness(t, options{feeRate: "0.001"})

	ok, msg := h.svc.Buy(context.Background(), buyOf("ETHBTC"))
	require.True(t, ok, msg)

	p := h.position(t, "ETHBTC")
	eq(t, "0.1001", p.ActualCost(), "cost includes market fees")
	eq(t, "0.8999", h.acc.Balance(), "balance")
}

func TestBuy_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("suspended", func(t *testing.T) {
		h := newHarness(t, options{})
		h.svc.Suspend("maintenance")
		ok, msg := h.svc.Buy(ctx, buyOf("ETHBTC"))
		assert.False(t, ok)
		assert.Equal(t, "trading suspended", msg)

		ok, msg = h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", MaxCost: spend("0.1"), ManualOrder: true})
		assert.True(t, ok, "manual orders bypass suspension: %s", msg)
	})

	t.Run("excluded", func(t *testing.T) {
		tr := baseTrading()
		tr.ExcludedPairs = []string{"ETHBTC"}
		h := newHarness(t, options{trading: tr})
		ok, msg := h.svc.Buy(ctx, buyOf("ETHBTC"))
		assert.False(t, ok)
		assert.Equal(t, "pair excluded", msg)
	})

	t.Run("already held", func(t *testing.T) {
		h := newHarness(t, options{})
		ok, _ := h.svc.Buy(ctx, buyOf("ETHBTC"))
		require.True(t, ok)
		ok, msg := h.svc.Buy(ctx, buyOf("ETHBTC"))
		assert.False(t, ok)
		assert.Equal(t, "position already exists", msg)
	})

	t.Run("max pairs", func(t *testing.T) {
		tr := baseTrading()
		tr.MaxPairs = 1
		h := newHarness(t, options{trading: tr})
		ok, _ := h.svc.Buy(ctx, buyOf("ETHBTC"))
		require.True(t, ok)
		ok, msg := h.svc.Buy(ctx, buyOf("LTCBTC"))
		assert.False(t, ok)
		assert.Equal(t, "maximum pairs reached", msg)
	})

	t.Run("not enough balance", func(t *testing.T) {
		h := newHarness(t, options{})
		ok, msg := h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", MaxCost: spend("2")})
		assert.False(t, ok)
		assert.Equal(t, "not enough balance", msg)
		assert.Zero(t, h.acc.PositionCount())
	})

	t.Run("same pair timeout", func(t *testing.T) {
		tr := baseTrading()
		tr.BuyDCASamePairTimeout = 600
		h := newHarness(t, options{trading: tr})
		ok, _ := h.svc.Buy(ctx, buyOf("ETHBTC"))
		require.True(t, ok)
		ok, msg := h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", MaxCost: spend("0.1"), IgnoreExisting: true})
		assert.False(t, ok)
		assert.Equal(t, "same pair timeout", msg)

		h.clk.Advance(11 * time.Minute)
		ok, msg = h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", MaxCost: spend("0.1"), IgnoreExisting: true})
		assert.True(t, ok, msg)
	})

	t.Run("amount and max cost", func(t *testing.T) {
		h := newHarness(t, options{})
		amount, maxCost := d("1"), d("0.05")
		ok, msg := h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", Amount: &amount, MaxCost: &maxCost, ManualOrder: true})
		assert.False(t, ok)
		assert.Contains(t, msg, "ambiguous amount")
	})

	t.Run("neither amount nor max cost", func(t *testing.T) {
		h := newHarness(t, options{})
		ok, msg := h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", ManualOrder: true})
		assert.False(t, ok)
		assert.Equal(t, "ambiguous amount: set amount or max cost", msg)
		assert.Zero(t, h.acc.PositionCount())
	})

	t.Run("exposure limit", func(t *testing.T) {
		limiter := correlation.NewPositionLimiter(decimal.Zero, decimal.Zero, d("0.15"), nil, nil)
		h := newHarness(t, options{limiter: limiter})
		ok, _ := h.svc.Buy(ctx, buyOf("ETHBTC"))
		require.True(t, ok)
		ok, msg := h.svc.Buy(ctx, buyOf("LTCBTC"))
		assert.False(t, ok)
		assert.Equal(t, correlation.ErrTotalLimitExceeded.Error(), msg)
	})
}

func TestBuy_TrailingExecutesOnRebound(t *testing.T) {
	tr := baseTrading()
	tr.BuyTrailing = 1
	tr.BuyTrailingStopMargin = -1
	h := newHarness(t, options{trading: tr})
	ctx := context.Background()

	ok, msg := h.svc.Buy(ctx, buyOf("ETHBTC"))
	require.True(t, ok, msg)
	assert.Zero(t, h.acc.PositionCount(), "trailing defers the order")
	buys, _ := h.svc.Trailing()
	require.Contains(t, buys, "ETHBTC")

	h.ex.SetPrice("ETHBTC", d("0.049")) // 2% below start
	h.tick(t)
	assert.Zero(t, h.acc.PositionCount())

	h.ex.SetPrice("ETHBTC", d("0.0496")) // gave back more than 1%
	h.tick(t)
	p := h.position(t, "ETHBTC")
	eq(t, "0.0496", p.AveragePrice, "bought at the rebound price")

	buys, _ = h.svc.Trailing()
	assert.Empty(t, buys)
}

func TestBuy_TrailingHardStopAbandons(t *testing.T) {
	tr := baseTrading()
	tr.BuyTrailing = 1
	tr.BuyTrailingStopMargin = -1
	h := newHarness(t, options{trading: tr})

	ok, _ := h.svc.Buy(context.Background(), buyOf("ETHBTC"))
	require.True(t, ok)

	h.ex.SetPrice("ETHBTC", d("0.0506")) // rose 1.2%
	h.tick(t)
	assert.Zero(t, h.acc.PositionCount())
	buys, _ := h.svc.Trailing()
	assert.Empty(t, buys)
	assert.Contains(t, h.events.types(), model.EventTrailEnd)
}

func TestSell_TrailingGiveBack(t *testing.T) {
	tr := baseTrading()
	tr.SellTrailing = 2
	tr.SellTrailingStopMargin = 1
	h := newHarness(t, options{trading: tr})
	ctx := context.Background()

	ok, _ := h.svc.Buy(ctx, buyOf("ETHBTC"))
	require.True(t, ok)

	h.ex.SetPrice("ETHBTC", d("0.0525")) // margin 5%
	h.tick(t)
	_, sells := h.svc.Trailing()
	require.Contains(t, sells, "ETHBTC", "sell margin reached starts a trail")
	h.position(t, "ETHBTC")

	h.ex.SetPrice("ETHBTC", d("0.05145")) // margin 2.9%, below best - distance
	h.tick(t)

	_, held := h.acc.Position("ETHBTC")
	assert.False(t, held)
	eq(t, "1.0029", h.acc.Balance(), "proceeds credited")

	require.Len(t, h.journal.results, 1)
	r := h.journal.results[0]
	eq(t, "0.0029", r.Profit, "profit")
	assert.InDelta(t, 2.9, r.Margin(), 1e-9)
}

func TestSell_StopLoss(t *testing.T) {
	tr := baseTrading()
	tr.SellEnabled = false
	tr.SellStopLossEnabled = true
	tr.SellStopLossMargin = -10
	h := newHarness(t, options{trading: tr})

	ok, _ := h.svc.Buy(context.Background(), buyOf("ETHBTC"))
	require.True(t, ok)

	h.ex.SetPrice("ETHBTC", d("0.046")) // margin -8%
	h.tick(t)
	h.position(t, "ETHBTC")

	h.ex.SetPrice("ETHBTC", d("0.044")) // margin -12%
	h.tick(t)
	_, held := h.acc.Position("ETHBTC")
	assert.False(t, held)
	require.Len(t, h.journal.results, 1)
	eq(t, "-0.012", h.journal.results[0].Profit, "loss")
}

func TestSell_Rejections(t *testing.T) {
	tr := baseTrading()
	tr.SellTimeout = 120
	h := newHarness(t, options{trading: tr})
	ctx := context.Background()

	ok, msg := h.svc.Sell(ctx, trading.SellOptions{Pair: "ETHBTC"})
	assert.False(t, ok)
	assert.Equal(t, "no position", msg)

	ok, _ = h.svc.Buy(ctx, buyOf("ETHBTC"))
	require.True(t, ok)
	ok, msg = h.svc.Sell(ctx, trading.SellOptions{Pair: "ETHBTC"})
	assert.False(t, ok)
	assert.Equal(t, "sell timeout", msg)

	ok, msg = h.svc.Sell(ctx, trading.SellOptions{Pair: "ETHBTC", ManualOrder: true})
	assert.True(t, ok, msg)
}

func TestSell_Partial(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	ok, _ := h.svc.Buy(ctx, buyOf("ETHBTC"))
	require.True(t, ok)
	half := d("1")
	ok, msg := h.svc.Sell(ctx, trading.SellOptions{Pair: "ETHBTC", Amount: &half, ManualOrder: true})
	require.True(t, ok, msg)

	p := h.position(t, "ETHBTC")
	eq(t, "1", p.Amount(), "half remains")
	eq(t, "0.05", p.ActualCost(), "cost scaled")
}

func TestDCA_BuysAtNextLevel(t *testing.T) {
	tr := baseTrading()
	tr.DCALevels = []rules.DCALevel{{Margin: -5}}
	h := newHarness(t, options{trading: tr})

	ok, _ := h.svc.Buy(context.Background(), buyOf("ETHBTC"))
	require.True(t, ok)

	h.ex.SetPrice("ETHBTC", d("0.0475")) // margin -5%
	h.tick(t)

	p := h.position(t, "ETHBTC")
	assert.Equal(t, 1, p.DCALevel())
	require.NotNil(t, p.Metadata.LastBuyMargin)
	assert.InDelta(t, -5, *p.Metadata.LastBuyMargin, 1e-9)
	eq(t, "0.2", p.ActualCost().Round(10), "DCA buy doubles the cost")

	// no further tier
	h.ex.SetPrice("ETHBTC", d("0.04"))
	h.tick(t)
	p = h.position(t, "ETHBTC")
	assert.Equal(t, 1, p.DCALevel())
}

func TestSwap_CarriesCostAndLevels(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	ok, _ := h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", MaxCost: spend("0.1"), ManualOrder: true})
	require.True(t, ok)
	cost := d("0.1")
	ok, msg := h.svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", ManualOrder: true, IgnoreExisting: true, MaxCost: &cost})
	require.True(t, ok, msg)
	before := h.position(t, "ETHBTC")
	require.Equal(t, 1, before.DCALevel())

	h.ex.SetPrice("ETHBTC", d("0.04"))
	ok, msg = h.svc.Swap(ctx, trading.SwapOptions{OldPair: "ETHBTC", NewPair: "LTCBTC", ManualOrder: true})
	require.True(t, ok, msg)

	_, held := h.acc.Position("ETHBTC")
	assert.False(t, held)

	p := h.position(t, "LTCBTC")
	eq(t, "16", p.Amount(), "proceeds reinvested")
	require.NotNil(t, p.Metadata.AdditionalCosts)
	eq(t, "0.04", *p.Metadata.AdditionalCosts, "loss carried as cost")
	require.NotNil(t, p.Metadata.AdditionalDCALevels)
	assert.Equal(t, 1, *p.Metadata.AdditionalDCALevels)
	assert.Equal(t, 1, p.DCALevel())
	assert.Equal(t, "ETHBTC", p.Metadata.SwapPair)
	eq(t, "0.2", p.CostBasis(), "cost basis continues")
	eq(t, "0.8", h.acc.Balance(), "balance")
	assert.Contains(t, h.events.types(), model.EventSwap)
}

func TestSwap_Rejections(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	ok, msg := h.svc.Swap(ctx, trading.SwapOptions{OldPair: "ETHBTC", NewPair: "LTCBTC"})
	assert.False(t, ok)
	assert.Equal(t, "swapping not enabled", msg)

	ok, msg = h.svc.Swap(ctx, trading.SwapOptions{OldPair: "ETHBTC", NewPair: "LTCBTC", ManualOrder: true})
	assert.False(t, ok)
	assert.Equal(t, "no position", msg)
}

func TestPersistenceFailureSuspendsTrading(t *testing.T) {
	h := newHarness(t, options{persister: failingStore{err: errors.New("disk full")}})
	ctx := context.Background()

	ok, msg := h.svc.Buy(ctx, buyOf("ETHBTC"))
	assert.True(t, ok, "the fill happened")
	assert.Contains(t, msg, "trading suspended")
	assert.True(t, h.svc.IsSuspended())
	assert.Equal(t, "account save failed", h.svc.SuspendReason())
	assert.Contains(t, h.events.types(), model.EventSuspended)

	ok, msg = h.svc.Buy(ctx, buyOf("LTCBTC"))
	assert.False(t, ok)
	assert.Equal(t, "trading suspended", msg)

	h.svc.Resume()
	assert.False(t, h.svc.IsSuspended())
	assert.Contains(t, h.events.types(), model.EventResumed)
}

func TestBuy_OtherMarketIsNormalized(t *testing.T) {
	h := newHarness(t, options{})
	h.ex.SetPrice("ETHUSDT", d("2000"))
	h.ex.SetPrice("BTCUSDT", d("40000"))

	one := d("1")
	ok, msg := h.svc.Buy(context.Background(), trading.BuyOptions{
		Pair:        "ETHBTC",
		Amount:      &one,
		Market:      "USDT",
		ManualOrder: true,
	})
	require.True(t, ok, msg)

	p := h.position(t, "ETHBTC")
	eq(t, "0.05", p.AveragePrice, "price converted to BTC")
	eq(t, "0.95", h.acc.Balance(), "balance debited in BTC")
	assert.Equal(t, "USDT", p.Metadata.ArbitrageMarket)
}

func TestService_ExecutionFault(t *testing.T) {
	h := newHarness(t, options{})
	ok, msg := h.svc.Buy(context.Background(), trading.BuyOptions{Pair: "XRPBTC", MaxCost: spend("0.1"), ManualOrder: true})
	assert.False(t, ok)
	assert.Contains(t, msg, "price unavailable")
	assert.Contains(t, h.events.types(), model.EventError)
}

func TestService_AccountView(t *testing.T) {
	h := newHarness(t, options{})
	ok, _ := h.svc.Buy(context.Background(), buyOf("ETHBTC"))
	require.True(t, ok)

	v := h.svc.AccountView()
	assert.True(t, v.Virtual)
	assert.False(t, v.Suspended)
	assert.Equal(t, 1, v.PositionsCnt)
	eq(t, "0.1", v.TotalCost, "total cost")
}

func TestLiveAccount_OtherMarketBuySurvivesRefresh(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(start)
	ex := exchange.NewPaper(clk, decimal.Zero)
	ex.SetPrice("ETHBTC", d("0.05"))
	ex.SetPrice("ETHUSDT", d("2000"))
	ex.SetPrice("BTCUSDT", d("40000"))
	ex.SetBalance("BTC", d("1"))
	ex.SetBalance("USDT", d("2000"))

	acc := ledger.NewLiveAccount("live", "BTC", ex, ledger.PriceConverter{Prices: ex, Market: "BTC"}, store.NewMemoryStore(), nil)
	require.NoError(t, acc.Load(ctx))
	resolver := policy.NewResolver(policy.Config{Trading: baseTrading(), Positions: acc, Clock: clk, Speed: 1})
	svc := trading.NewService(trading.Config{Account: acc, Exchange: ex, Resolver: resolver, Clock: clk})

	one := d("1")
	ok, msg := svc.Buy(ctx, trading.BuyOptions{Pair: "ETHBTC", Amount: &one, Market: "USDT", ManualOrder: true})
	require.True(t, ok, msg)
	require.NoError(t, svc.RefreshAccount(ctx))

	p, held := acc.Position("ETHBTC")
	require.True(t, held, "refresh keeps the USDT fill")
	eq(t, "1", p.Amount(), "amount")
	eq(t, "0.05", p.AveragePrice, "price in BTC")
	assert.Equal(t, "USDT", p.Metadata.ArbitrageMarket)
}

func TestTradingTick_SkipsUnpricedPositions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := ledger.NewBook(d("1"))
	require.NoError(t, b.ApplyBuy(ledger.Fill{
		OrderID: "o1", Pair: "XRPBTC", Side: exchange.Buy, Date: start,
		Amount: d("100"), Price: d("0.001"), FeesPair: decimal.Zero, FeesMarket: decimal.Zero,
	}))
	require.NoError(t, st.SaveAccount(ctx, "paper", b.Snapshot()))

	tr := baseTrading()
	tr.SellStopLossEnabled = true
	tr.SellStopLossMargin = -10
	tr.DCALevels = []rules.DCALevel{{Margin: -5}}
	h := newHarness(t, options{trading: tr, persister: st})
	require.NoError(t, h.acc.Load(ctx))

	// XRPBTC has no quote, so the restored position never gets a price
	assert.Error(t, h.svc.TradingTick(ctx))

	p := h.position(t, "XRPBTC")
	assert.False(t, p.Priced())
	eq(t, "100", p.Amount(), "neither stop loss nor DCA fired")
	assert.Equal(t, 0, p.DCALevel())
	assert.Empty(t, h.journal.results)
	eq(t, "0.9", h.acc.Balance(), "balance")
}
