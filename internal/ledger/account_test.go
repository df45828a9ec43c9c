package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trade-engine/internal/clock"
	"github.com/atmx/trade-engine/internal/exchange"
)

type memPersister struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	err   error
}

func (m *memPersister) SaveAccount(_ context.Context, id string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.snaps == nil {
		m.snaps = make(map[string]Snapshot)
	}
	m.snaps[id] = s
	return nil
}

func (m *memPersister) LoadAccount(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("account %s: %w", id, ErrSnapshotNotFound)
	}
	return s, nil
}

func TestVirtualAccount_SaveLoad(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}

	acc := NewVirtualAccount("paper", "BTC", d("1"), p, nil)
	require.NoError(t, acc.Load(ctx), "missing snapshot is not an error")
	eq(t, "1", acc.Balance(), "initial balance")

	require.NoError(t, acc.ApplyBuy(buyFill("o1", "10", "0.05", "0.0005", t0)))
	require.NoError(t, acc.Save(ctx))

	restored := NewVirtualAccount("paper", "BTC", d("5"), p, nil)
	require.NoError(t, restored.Load(ctx))
	eq(t, "0.4995", restored.Balance(), "restored balance")
	pos, ok := restored.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "10", pos.Amount(), "restored amount")
	assert.Equal(t, 1, restored.PositionCount())
}

func TestVirtualAccount_SaveError(t *testing.T) {
	boom := errors.New("disk full")
	acc := NewVirtualAccount("paper", "BTC", d("1"), &memPersister{err: boom}, nil)
	assert.ErrorIs(t, acc.Save(context.Background()), boom)
}

func TestAccount_PositionStateAndPrices(t *testing.T) {
	acc := NewVirtualAccount("paper", "BTC", d("1"), nil, nil)
	assert.Nil(t, acc.PositionState("ETHBTC"))

	require.NoError(t, acc.ApplyBuy(buyFill("o1", "10", "0.05", "0", t0)))
	acc.SetCurrentPrice("ETHBTC", d("0.055"), 0.2)

	st := acc.PositionState("ETHBTC")
	require.NotNil(t, st)
	assert.InDelta(t, 10.0, st.Margin, 1e-9)
	assert.Equal(t, 10.0, st.Amount)
	assert.Equal(t, t0, st.FirstBuy)

	pos, _ := acc.Position("ETHBTC")
	assert.Equal(t, 0.2, pos.CurrentSpread)

	// copies do not alias the book
	pos.OrderIDs[0] = "changed"
	again, _ := acc.Position("ETHBTC")
	assert.Equal(t, "o1", again.OrderIDs[0])
}

type failingTrades struct {
	*exchange.Paper
	fail bool
}

func (f *failingTrades) Trades(ctx context.Context, pair string) ([]exchange.OrderDetails, error) {
	if f.fail {
		return nil, errors.New("history unavailable")
	}
	return f.Paper.Trades(ctx, pair)
}

func TestLiveAccount_RefreshReplaysHistory(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaper(clock.NewManual(t0), d("0.001"))
	paper.SetPrice("ETHBTC", d("0.05"))
	paper.SetBalance("BTC", d("1"))

	_, err := paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHBTC", Side: exchange.Buy, Amount: d("10")})
	require.NoError(t, err)
	paper.SetPrice("ETHBTC", d("0.04"))
	_, err = paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHBTC", Side: exchange.Buy, Amount: d("10")})
	require.NoError(t, err)
	_, err = paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHBTC", Side: exchange.Sell, Amount: d("5")})
	require.NoError(t, err)

	src := &failingTrades{Paper: paper}
	acc := NewLiveAccount("live", "BTC", src, PriceConverter{Prices: paper, Market: "BTC"}, nil, nil)
	require.NoError(t, acc.Refresh(ctx))

	bal, _ := paper.Balances(ctx)
	eq(t, bal["BTC"].String(), acc.Balance(), "balance mirrors exchange")

	pos, ok := acc.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "15", pos.Amount(), "held after partial sell")
	eq(t, "0.045", pos.AveragePrice, "average")
	assert.Equal(t, 1, pos.DCALevel())

	// metadata survives the next refresh
	acc.mu.Lock()
	acc.book.Positions["ETHBTC"].Metadata.SignalRule = "momentum"
	acc.mu.Unlock()
	require.NoError(t, acc.Refresh(ctx))
	pos, _ = acc.Position("ETHBTC")
	assert.Equal(t, "momentum", pos.Metadata.SignalRule)

	// a failing refresh keeps the previous book
	src.fail = true
	assert.Error(t, acc.Refresh(ctx))
	pos, ok = acc.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "15", pos.Amount(), "previous book kept")
}

func TestLiveAccount_ClosedPairsDropOut(t *testing.T) {
	ctx := context.Background()
	paper := exchange.NewPaper(clock.NewManual(t0), decimal.Zero)
	paper.SetPrice("ETHBTC", d("0.05"))
	paper.SetBalance("BTC", d("1"))

	_, err := paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHBTC", Side: exchange.Buy, Amount: d("10")})
	require.NoError(t, err)
	_, err = paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHBTC", Side: exchange.Sell, Amount: d("10")})
	require.NoError(t, err)

	acc := NewLiveAccount("live", "BTC", paper, nil, nil, nil)
	require.NoError(t, acc.Refresh(ctx))
	assert.Zero(t, acc.PositionCount())
	eq(t, "1", acc.Balance(), "round trip at the same price without fees")
}

func crossMarketPaper(t *testing.T) *exchange.Paper {
	t.Helper()
	ctx := context.Background()
	paper := exchange.NewPaper(clock.NewManual(t0), decimal.Zero)
	paper.SetPrice("ETHBTC", d("0.05"))
	paper.SetPrice("ETHUSDT", d("2000"))
	paper.SetPrice("BTCUSDT", d("40000"))
	paper.SetBalance("BTC", d("1"))
	paper.SetBalance("USDT", d("4000"))

	_, err := paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHBTC", Side: exchange.Buy, Amount: d("1")})
	require.NoError(t, err)
	_, err = paper.PlaceOrder(ctx, exchange.Order{Pair: "ETHUSDT", Side: exchange.Buy, Amount: d("1")})
	require.NoError(t, err)
	return paper
}

func TestLiveAccount_RefreshFoldsOtherMarkets(t *testing.T) {
	ctx := context.Background()
	paper := crossMarketPaper(t)

	acc := NewLiveAccount("live", "BTC", paper, PriceConverter{Prices: paper, Market: "BTC"}, nil, nil)
	acc.ReconcileMarkets("USDT")
	require.NoError(t, acc.Refresh(ctx))

	pos, ok := acc.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "2", pos.Amount(), "both legs held")
	eq(t, "0.1", pos.ActualCost(), "USDT leg valued in BTC")
	eq(t, "0.05", pos.AveragePrice, "average in BTC")
	assert.Equal(t, 1, pos.DCALevel())
	eq(t, "0.95", acc.Balance(), "BTC balance mirrors exchange")

	_, ok = acc.Position("USDTBTC")
	assert.False(t, ok, "quote balances are not positions")
}

func TestLiveAccount_RefreshFollowsArbitrageMarket(t *testing.T) {
	ctx := context.Background()
	paper := crossMarketPaper(t)

	acc := NewLiveAccount("live", "BTC", paper, PriceConverter{Prices: paper, Market: "BTC"}, nil, nil)
	require.NoError(t, acc.Refresh(ctx))
	pos, ok := acc.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "1", pos.Amount(), "only the account market leg without a hint")

	acc.mu.Lock()
	acc.book.Positions["ETHBTC"].Metadata.ArbitrageMarket = "USDT"
	acc.mu.Unlock()
	require.NoError(t, acc.Refresh(ctx))

	pos, ok = acc.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "2", pos.Amount(), "recorded market folded in")
	assert.Equal(t, "USDT", pos.Metadata.ArbitrageMarket)
}

func TestLiveAccount_OtherMarketNeedsNormalizer(t *testing.T) {
	ctx := context.Background()
	paper := crossMarketPaper(t)

	acc := NewLiveAccount("live", "BTC", paper, nil, nil, nil)
	acc.ReconcileMarkets("USDT")
	require.NoError(t, acc.Refresh(ctx))
	pos, ok := acc.Position("ETHBTC")
	require.True(t, ok)
	eq(t, "1", pos.Amount(), "unconvertible fills are left out")
}
