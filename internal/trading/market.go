package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/exchange"
)

// orderPair is the symbol an order for pair is placed on: pair itself, or
// the same base currency quoted in market.
func (s *Service) orderPair(pair, market string) (string, error) {
	if market == "" || market == s.market {
		return pair, nil
	}
	return s.exchange.ChangeMarket(pair, market)
}

// marketRate is the price of one unit of pair's quote currency in the
// account market.
func (s *Service) marketRate(ctx context.Context, pair string, side exchange.Side) (decimal.Decimal, error) {
	quote, err := s.exchange.PairMarket(pair)
	if err != nil {
		return decimal.Zero, err
	}
	return s.conv.Rate(ctx, quote, side)
}

// normalize expresses a fill on another quote market in the account market.
func (s *Service) normalize(ctx context.Context, d exchange.OrderDetails) (exchange.OrderDetails, error) {
	return s.conv.Normalize(ctx, d)
}
