package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/exchange"
)

// Fill is an executed order normalized to the account market: fees are
// split into the part paid in the pair's base currency and the part paid
// (or converted) in the market currency.
type Fill struct {
	OrderID    string
	Pair       string
	Side       exchange.Side
	Date       time.Time
	Amount     decimal.Decimal
	Price      decimal.Decimal
	FeesPair   decimal.Decimal
	FeesMarket decimal.Decimal
	Metadata   Metadata
}

// Cost is the filled amount at the fill price.
func (f Fill) Cost() decimal.Decimal {
	return f.Amount.Mul(f.Price)
}

// FeeConverter values fees paid in a third currency in the market currency.
type FeeConverter interface {
	ConvertFee(ctx context.Context, currency string, amount decimal.Decimal) (decimal.Decimal, error)
}

// PriceSource is the part of the exchange a PriceConverter needs.
type PriceSource interface {
	Price(ctx context.Context, pair string, side exchange.Side) (decimal.Decimal, error)
}

// PriceConverter converts fees at the current price of <currency><market>.
// The price at fill time is not available here; the current price is used.
type PriceConverter struct {
	Prices PriceSource
	Market string
}

func (c PriceConverter) ConvertFee(ctx context.Context, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	price, err := c.Prices.Price(ctx, currency+c.Market, exchange.Sell)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(price), nil
}

// Rate is the price of one unit of quote in the market currency. Both
// <quote><market> and <market><quote> are tried.
func (c PriceConverter) Rate(ctx context.Context, quote string, side exchange.Side) (decimal.Decimal, error) {
	if quote == c.Market {
		return decimal.NewFromInt(1), nil
	}
	rate, err := c.Prices.Price(ctx, quote+c.Market, side)
	if err == nil && rate.IsPositive() {
		return rate, nil
	}
	inverse, ierr := c.Prices.Price(ctx, c.Market+quote, side)
	if ierr != nil {
		return decimal.Zero, fmt.Errorf("no rate from %s to %s: %w", quote, c.Market, ierr)
	}
	if !inverse.IsPositive() {
		return decimal.Zero, fmt.Errorf("no rate from %s to %s: zero price", quote, c.Market)
	}
	return decimal.NewFromInt(1).Div(inverse), nil
}

// Normalize expresses a fill on another quote market in the market
// currency: prices and quote-currency fees are scaled by the rate and the
// pair is renamed to its market symbol.
func (c PriceConverter) Normalize(ctx context.Context, d exchange.OrderDetails) (exchange.OrderDetails, error) {
	quote, err := exchange.PairMarket(d.Pair)
	if err != nil {
		return d, err
	}
	if quote == c.Market {
		return d, nil
	}
	rate, err := c.Rate(ctx, quote, d.Side)
	if err != nil {
		return d, err
	}
	pair, err := exchange.ChangeMarket(d.Pair, c.Market)
	if err != nil {
		return d, err
	}
	d.Pair = pair
	d.Price = d.Price.Mul(rate)
	d.AveragePrice = d.AveragePrice.Mul(rate)
	if d.FeesCurrency == quote {
		d.Fees = d.Fees.Mul(rate)
		d.FeesCurrency = c.Market
	}
	return d, nil
}

// NewFill validates d and splits its fees. Fees in the market currency (or
// with no currency) are market fees, fees in the base currency are pair
// fees, anything else is converted through conv.
func NewFill(ctx context.Context, d exchange.OrderDetails, market string, conv FeeConverter, meta Metadata) (Fill, error) {
	if !d.IsFilled() {
		return Fill{}, fmt.Errorf("%w: %s %s", ErrNotFilled, d.OrderID, d.Result)
	}

	f := Fill{
		OrderID:    d.OrderID,
		Pair:       d.Pair,
		Side:       d.Side,
		Date:       d.Date,
		Amount:     d.AmountFilled,
		Price:      d.AveragePrice,
		FeesPair:   decimal.Zero,
		FeesMarket: decimal.Zero,
		Metadata:   meta,
	}

	switch d.FeesCurrency {
	case "", market:
		f.FeesMarket = d.Fees
	case exchange.BaseCurrency(d.Pair, market):
		f.FeesPair = d.Fees
	default:
		if conv == nil {
			return Fill{}, fmt.Errorf("%w: no converter for %s", ErrFeeConversion, d.FeesCurrency)
		}
		converted, err := conv.ConvertFee(ctx, d.FeesCurrency, d.Fees)
		if err != nil {
			return Fill{}, fmt.Errorf("%w: %s: %v", ErrFeeConversion, d.FeesCurrency, err)
		}
		f.FeesMarket = converted
	}
	return f, nil
}
