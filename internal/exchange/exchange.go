// Package exchange defines the exchange adapter the trading core talks to,
// the order types that cross it, and an in-memory paper exchange.
//
// All monetary values use shopspring/decimal.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownPair       = errors.New("exchange: unknown pair")
	ErrInvalidOrder      = errors.New("exchange: invalid order")
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType is market or limit.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Result is the state an order ended up in.
type Result string

const (
	Filled          Result = "filled"
	PartiallyFilled Result = "partially_filled"
	Pending         Result = "pending"
	Canceled        Result = "canceled"
	Rejected        Result = "rejected"
)

// Order is a request submitted to the exchange.
type Order struct {
	Pair   string          `json:"pair"`
	Side   Side            `json:"side"`
	Type   OrderType       `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// OrderDetails is the exchange's account of an order.
type OrderDetails struct {
	OrderID      string          `json:"order_id"`
	Pair         string          `json:"pair"`
	Side         Side            `json:"side"`
	Result       Result          `json:"result"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	AmountFilled decimal.Decimal `json:"amount_filled"`
	Price        decimal.Decimal `json:"price"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Fees         decimal.Decimal `json:"fees"`
	FeesCurrency string          `json:"fees_currency"`
}

// IsFilled reports whether some quantity was executed.
func (d OrderDetails) IsFilled() bool {
	return (d.Result == Filled || d.Result == PartiallyFilled) && d.AmountFilled.IsPositive()
}

// Cost is the filled quantity at the average price.
func (d OrderDetails) Cost() decimal.Decimal {
	return d.AmountFilled.Mul(d.AveragePrice)
}

// Exchange is the adapter contract. Calls block until the exchange has
// answered or ctx is done.
type Exchange interface {
	Price(ctx context.Context, pair string, side Side) (decimal.Decimal, error)
	// Spread is (ask − bid) / bid in percent.
	Spread(ctx context.Context, pair string) (float64, error)
	MarketPairs(ctx context.Context, market string) ([]string, error)
	PlaceOrder(ctx context.Context, order Order) (OrderDetails, error)
	ClampAmount(pair string, amount decimal.Decimal) decimal.Decimal
	ClampPrice(pair string, price decimal.Decimal) decimal.Decimal
	PairMarket(pair string) (string, error)
	ChangeMarket(pair, market string) (string, error)
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	// Trades returns the fill history of pair, oldest first.
	Trades(ctx context.Context, pair string) ([]OrderDetails, error)
}

// Simulate builds a fill for order at price, charging feeRate of the cost
// in the pair's quote currency (empty when the symbol does not parse).
// Used for paper fills.
func Simulate(order Order, price, feeRate decimal.Decimal, now time.Time) OrderDetails {
	fees := order.Amount.Mul(price).Mul(feeRate)
	quote, _ := PairMarket(order.Pair)
	return OrderDetails{
		OrderID:      uuid.New().String(),
		Pair:         order.Pair,
		Side:         order.Side,
		Result:       Filled,
		Date:         now,
		Amount:       order.Amount,
		AmountFilled: order.Amount,
		Price:        price,
		AveragePrice: price,
		Fees:         fees,
		FeesCurrency: quote,
	}
}
