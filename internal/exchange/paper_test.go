package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trade-engine/internal/clock"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper() *Paper {
	p := NewPaper(clock.NewManual(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), d("0.001"))
	p.SetQuote("ETHBTC", Quote{Bid: d("0.049"), Ask: d("0.05")})
	p.SetBalance("BTC", d("1"))
	return p
}

func TestPaper_BuyAndSellMoveBalances(t *testing.T) {
	ctx := context.Background()
	p := newPaper()

	buy, err := p.PlaceOrder(ctx, Order{Pair: "ETHBTC", Side: Buy, Type: Market, Amount: d("10")})
	require.NoError(t, err)
	assert.True(t, buy.IsFilled())
	assert.True(t, buy.AveragePrice.Equal(d("0.05")))
	assert.True(t, buy.Fees.Equal(d("0.0005")))
	assert.Equal(t, "BTC", buy.FeesCurrency)
	assert.NotEmpty(t, buy.OrderID)

	bal, err := p.Balances(ctx)
	require.NoError(t, err)
	assert.True(t, bal["BTC"].Equal(d("0.4995")), bal["BTC"].String())
	assert.True(t, bal["ETH"].Equal(d("10")))

	sell, err := p.PlaceOrder(ctx, Order{Pair: "ETHBTC", Side: Sell, Type: Market, Amount: d("10")})
	require.NoError(t, err)
	assert.True(t, sell.AveragePrice.Equal(d("0.049")))

	trades, err := p.Trades(ctx, "ETHBTC")
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestPaper_Rejections(t *testing.T) {
	ctx := context.Background()
	p := newPaper()

	_, err := p.PlaceOrder(ctx, Order{Pair: "ETHBTC", Side: Buy, Amount: d("100")})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = p.PlaceOrder(ctx, Order{Pair: "LTCBTC", Side: Buy, Amount: d("1")})
	assert.ErrorIs(t, err, ErrUnknownPair)

	_, err = p.PlaceOrder(ctx, Order{Pair: "ETHBTC", Side: Buy, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	boom := errors.New("exchange down")
	p.FailNext(boom)
	_, err = p.PlaceOrder(ctx, Order{Pair: "ETHBTC", Side: Buy, Amount: d("1")})
	assert.ErrorIs(t, err, boom)
	_, err = p.PlaceOrder(ctx, Order{Pair: "ETHBTC", Side: Buy, Amount: d("1")})
	assert.NoError(t, err)
}

func TestPaper_ClampAndSpread(t *testing.T) {
	p := newPaper()
	p.SetPrecision("ETHBTC", Precision{AmountStep: d("0.01"), PriceStep: d("0.000001")})

	assert.True(t, p.ClampAmount("ETHBTC", d("1.23456")).Equal(d("1.23")))
	assert.True(t, p.ClampPrice("ETHBTC", d("0.0501239")).Equal(d("0.050123")))
	assert.True(t, p.ClampAmount("LTCBTC", d("1.23456")).Equal(d("1.23456")), "no step, no clamp")

	spread, err := p.Spread(context.Background(), "ETHBTC")
	require.NoError(t, err)
	assert.InDelta(t, 2.0408, spread, 1e-3)
}

func TestPaper_MarketPairs(t *testing.T) {
	p := newPaper()
	p.SetPrice("LTCBTC", d("0.002"))
	p.SetPrice("BTCUSDT", d("60000"))

	pairs, err := p.MarketPairs(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHBTC", "LTCBTC"}, pairs)
}
