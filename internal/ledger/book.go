package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/exchange"
)

var (
	ErrNotFilled        = errors.New("ledger: order not filled")
	ErrWrongSide        = errors.New("ledger: wrong order side")
	ErrNoPosition       = errors.New("ledger: no position for pair")
	ErrFeeConversion    = errors.New("ledger: fee conversion failed")
	ErrSnapshotNotFound = errors.New("ledger: snapshot not found")
)

// Book is the balance and position map of one account. It is not safe for
// concurrent use; accounts guard it with their lock.
type Book struct {
	Balance   decimal.Decimal
	Positions map[string]*Position
}

// NewBook creates a book with balance and no positions.
func NewBook(balance decimal.Decimal) *Book {
	return &Book{Balance: balance, Positions: make(map[string]*Position)}
}

// ApplyBuy debits the cost and market fees from the balance and adds the
// fill to the pair's position at a new weighted-average price. The fill's
// metadata takes precedence over the position's per field.
func (b *Book) ApplyBuy(f Fill) error {
	if f.Side != exchange.Buy {
		return fmt.Errorf("%w: %s on buy", ErrWrongSide, f.Side)
	}
	if !f.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNotFilled, f.OrderID)
	}

	cost := f.Cost()
	b.Balance = b.Balance.Sub(cost).Sub(f.FeesMarket)

	pos, ok := b.Positions[f.Pair]
	if !ok {
		pos = &Position{
			Pair:         f.Pair,
			TotalAmount:  decimal.Zero,
			AveragePrice: decimal.Zero,
			FeesPair:     decimal.Zero,
			FeesMarket:   decimal.Zero,
		}
		b.Positions[f.Pair] = pos
	}

	total := pos.TotalAmount.Add(f.Amount)
	pos.AveragePrice = pos.Cost().Add(cost).Div(total)
	pos.TotalAmount = total
	pos.FeesPair = pos.FeesPair.Add(f.FeesPair)
	pos.FeesMarket = pos.FeesMarket.Add(f.FeesMarket)
	pos.OrderIDs = append(pos.OrderIDs, f.OrderID)
	pos.OrderDates = append(pos.OrderDates, f.Date)
	pos.Metadata = f.Metadata.Merge(pos.Metadata)
	if pos.CurrentPrice.IsZero() {
		pos.CurrentPrice = f.Price
	}
	return nil
}

// ApplySell credits the proceeds net of fees and reduces the position by
// the filled share. Profit is the balance delta minus the same share of
// the position's cost basis. A sell of the whole held amount removes the
// position.
func (b *Book) ApplySell(f Fill) (TradeResult, error) {
	if f.Side != exchange.Sell {
		return TradeResult{Pair: f.Pair}, fmt.Errorf("%w: %s on sell", ErrWrongSide, f.Side)
	}
	pos, ok := b.Positions[f.Pair]
	if !ok || !pos.Amount().IsPositive() {
		return TradeResult{Pair: f.Pair}, fmt.Errorf("%w: %s", ErrNoPosition, f.Pair)
	}
	if !f.Amount.IsPositive() {
		return TradeResult{Pair: f.Pair}, fmt.Errorf("%w: %s", ErrNotFilled, f.OrderID)
	}

	held := pos.Amount()
	ratio := decimal.Min(f.Amount.Div(held), decimal.NewFromInt(1))

	// delta is already this fill's share of the position; only the cost
	// side is scaled by ratio. A full sell reduces to
	// sellCost - sellFees - actualCost - additional.
	sellFees := f.FeesMarket.Add(f.FeesPair.Mul(f.Price))
	delta := f.Cost().Sub(sellFees)
	actualCost := pos.ActualCost().Mul(ratio)
	additional := pos.Metadata.additionalCosts().Mul(ratio)
	profit := delta.Sub(actualCost).Sub(additional)

	result := TradeResult{
		ID:                newID(),
		IsSuccessful:      true,
		Pair:              f.Pair,
		Amount:            f.Amount,
		OrderDates:        append([]time.Time(nil), pos.OrderDates...),
		AveragePricePaid:  pos.AveragePrice,
		FeesPair:          pos.FeesPair.Mul(ratio),
		FeesMarket:        pos.FeesMarket.Mul(ratio),
		SellFees:          sellFees,
		ActualCost:        actualCost,
		AdditionalCosts:   additional,
		SellDate:          f.Date,
		SellPrice:         f.Price,
		BalanceDifference: delta,
		Profit:            profit,
		DCALevel:          pos.DCALevel(),
		Metadata:          f.Metadata.Merge(pos.Metadata),
	}

	b.Balance = b.Balance.Add(delta)

	if f.Amount.GreaterThanOrEqual(held) {
		delete(b.Positions, f.Pair)
		return result, nil
	}

	keep := decimal.NewFromInt(1).Sub(ratio)
	pos.TotalAmount = pos.TotalAmount.Mul(keep)
	pos.FeesPair = pos.FeesPair.Mul(keep)
	pos.FeesMarket = pos.FeesMarket.Mul(keep)
	if pos.Metadata.AdditionalCosts != nil {
		rest := pos.Metadata.AdditionalCosts.Mul(keep)
		pos.Metadata.AdditionalCosts = &rest
	}
	return result, nil
}

// Snapshot is the persisted form of a book.
type Snapshot struct {
	Balance   decimal.Decimal     `json:"balance"`
	Positions map[string]Position `json:"positions"`
}

// Snapshot deep-copies the book.
func (b *Book) Snapshot() Snapshot {
	s := Snapshot{Balance: b.Balance, Positions: make(map[string]Position, len(b.Positions))}
	for k, p := range b.Positions {
		s.Positions[k] = *p.clone()
	}
	return s
}

// BookFromSnapshot rebuilds a book from s.
func BookFromSnapshot(s Snapshot) *Book {
	b := NewBook(s.Balance)
	for k, p := range s.Positions {
		p := p
		b.Positions[k] = p.clone()
	}
	return b
}

// sortedPositions returns copies of the positions ordered by pair.
func (b *Book) sortedPositions() []Position {
	out := make([]Position, 0, len(b.Positions))
	for _, p := range b.Positions {
		out = append(out, *p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}
