package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/clock"
)

var _ Exchange = (*Paper)(nil)

// Quote is the best bid and ask of a pair.
type Quote struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// Precision holds the amount and price step sizes of a pair. A zero step
// disables clamping.
type Precision struct {
	AmountStep decimal.Decimal `json:"amount_step"`
	PriceStep  decimal.Decimal `json:"price_step"`
}

// Paper is an in-memory exchange. Orders fill immediately at the current
// ask (buys) or bid (sells) and fees are charged in the quote currency.
// It keeps balances and a trade history so it can back a live account in
// tests and dry runs.
type Paper struct {
	clock   clock.Clock
	feeRate decimal.Decimal

	mu        sync.RWMutex
	quotes    map[string]Quote
	precision map[string]Precision
	balances  map[string]decimal.Decimal
	trades    map[string][]OrderDetails
	failNext  error
}

// NewPaper creates a paper exchange charging feeRate (0.001 = 0.1%).
func NewPaper(c clock.Clock, feeRate decimal.Decimal) *Paper {
	if c == nil {
		c = clock.Real{}
	}
	return &Paper{
		clock:     c,
		feeRate:   feeRate,
		quotes:    make(map[string]Quote),
		precision: make(map[string]Precision),
		balances:  make(map[string]decimal.Decimal),
		trades:    make(map[string][]OrderDetails),
	}
}

// SetPrice sets bid and ask of pair to price.
func (p *Paper) SetPrice(pair string, price decimal.Decimal) {
	p.SetQuote(pair, Quote{Bid: price, Ask: price})
}

// SetQuote sets the bid and ask of pair.
func (p *Paper) SetQuote(pair string, q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[pair] = q
}

// SetPrecision sets the step sizes of pair.
func (p *Paper) SetPrecision(pair string, prec Precision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.precision[pair] = prec
}

// SetBalance sets the free balance of currency.
func (p *Paper) SetBalance(currency string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = amount
}

// FailNext makes the next PlaceOrder return err.
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// FeeRate returns the fee rate charged per fill.
func (p *Paper) FeeRate() decimal.Decimal { return p.feeRate }

func (p *Paper) Price(_ context.Context, pair string, side Side) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	if side == Sell {
		return q.Bid, nil
	}
	return q.Ask, nil
}

func (p *Paper) Spread(_ context.Context, pair string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[pair]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	if !q.Bid.IsPositive() {
		return 0, nil
	}
	return q.Ask.Sub(q.Bid).Div(q.Bid).Mul(decimal.NewFromInt(100)).InexactFloat64(), nil
}

// MarketPairs lists the quoted pairs whose quote currency is market.
func (p *Paper) MarketPairs(_ context.Context, market string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.quotes))
	for pair := range p.quotes {
		if m, err := PairMarket(pair); err == nil && m == market {
			out = append(out, pair)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Paper) PlaceOrder(_ context.Context, order Order) (OrderDetails, error) {
	if !order.Amount.IsPositive() || (order.Side != Buy && order.Side != Sell) {
		return OrderDetails{}, fmt.Errorf("%w: %s %s %s", ErrInvalidOrder, order.Side, order.Amount, order.Pair)
	}
	parsed, err := ParsePair(order.Pair)
	if err != nil {
		return OrderDetails{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failNext; err != nil {
		p.failNext = nil
		return OrderDetails{}, err
	}

	q, ok := p.quotes[order.Pair]
	if !ok {
		return OrderDetails{}, fmt.Errorf("%w: %s", ErrUnknownPair, order.Pair)
	}
	price := q.Ask
	if order.Side == Sell {
		price = q.Bid
	}

	d := Simulate(order, price, p.feeRate, p.clock.Now())
	cost := d.Cost()

	switch order.Side {
	case Buy:
		need := cost.Add(d.Fees)
		if p.balances[parsed.Quote].LessThan(need) {
			return OrderDetails{}, fmt.Errorf("%w: need %s %s", ErrInsufficientFunds, need, parsed.Quote)
		}
		p.balances[parsed.Quote] = p.balances[parsed.Quote].Sub(need)
		p.balances[parsed.Base] = p.balances[parsed.Base].Add(d.AmountFilled)
	case Sell:
		if p.balances[parsed.Base].LessThan(d.AmountFilled) {
			return OrderDetails{}, fmt.Errorf("%w: need %s %s", ErrInsufficientFunds, d.AmountFilled, parsed.Base)
		}
		p.balances[parsed.Base] = p.balances[parsed.Base].Sub(d.AmountFilled)
		p.balances[parsed.Quote] = p.balances[parsed.Quote].Add(cost.Sub(d.Fees))
	}

	p.trades[order.Pair] = append(p.trades[order.Pair], d)
	return d, nil
}

// ClampAmount floors amount to the pair's amount step.
func (p *Paper) ClampAmount(pair string, amount decimal.Decimal) decimal.Decimal {
	p.mu.RLock()
	step := p.precision[pair].AmountStep
	p.mu.RUnlock()
	return floorToStep(amount, step)
}

// ClampPrice floors price to the pair's price step.
func (p *Paper) ClampPrice(pair string, price decimal.Decimal) decimal.Decimal {
	p.mu.RLock()
	step := p.precision[pair].PriceStep
	p.mu.RUnlock()
	return floorToStep(price, step)
}

func (p *Paper) PairMarket(pair string) (string, error) { return PairMarket(pair) }

func (p *Paper) ChangeMarket(pair, market string) (string, error) { return ChangeMarket(pair, market) }

func (p *Paper) Balances(_ context.Context) (map[string]decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *Paper) Trades(_ context.Context, pair string) ([]OrderDetails, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]OrderDetails(nil), p.trades[pair]...), nil
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
