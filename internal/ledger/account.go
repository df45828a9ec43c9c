package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/rules"
)

// Persister stores account snapshots.
type Persister interface {
	SaveAccount(ctx context.Context, id string, snap Snapshot) error
	// LoadAccount returns an error wrapping ErrSnapshotNotFound when no
	// snapshot exists for id.
	LoadAccount(ctx context.Context, id string) (Snapshot, error)
}

// Account is the contract shared by virtual and live accounts. Every
// method is safe for concurrent use.
type Account interface {
	ID() string
	Market() string
	Balance() decimal.Decimal
	Position(pair string) (Position, bool)
	Positions() []Position
	PositionCount() int
	PositionState(pair string) *rules.PositionState
	SetCurrentPrice(pair string, price decimal.Decimal, spread float64)
	ApplyBuy(f Fill) error
	ApplySell(f Fill) (TradeResult, error)
	Snapshot() Snapshot
	Save(ctx context.Context) error
	Load(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// account holds the state and lock common to both implementations.
type account struct {
	id        string
	market    string
	persister Persister
	logger    *zap.Logger

	mu   sync.Mutex
	book *Book
}

func newAccount(id, market string, balance decimal.Decimal, p Persister, logger *zap.Logger) *account {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &account{
		id:        id,
		market:    market,
		persister: p,
		logger:    logger.With(zap.String("account", id)),
		book:      NewBook(balance),
	}
}

func (a *account) ID() string     { return a.id }
func (a *account) Market() string { return a.market }

func (a *account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.Balance
}

func (a *account) Position(pair string) (Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.book.Positions[pair]
	if !ok {
		return Position{}, false
	}
	return *p.clone(), true
}

func (a *account) Positions() []Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.sortedPositions()
}

func (a *account) PositionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.book.Positions)
}

func (a *account) PositionState(pair string) *rules.PositionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.book.Positions[pair]
	if !ok {
		return nil
	}
	return p.State()
}

func (a *account) SetCurrentPrice(pair string, price decimal.Decimal, spread float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.book.Positions[pair]; ok {
		p.CurrentPrice = price
		p.CurrentSpread = spread
	}
}

func (a *account) ApplyBuy(f Fill) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.ApplyBuy(f)
}

func (a *account) ApplySell(f Fill) (TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.ApplySell(f)
}

func (a *account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.Snapshot()
}

func (a *account) Save(ctx context.Context) error {
	if a.persister == nil {
		return nil
	}
	if err := a.persister.SaveAccount(ctx, a.id, a.Snapshot()); err != nil {
		return fmt.Errorf("save account %s: %w", a.id, err)
	}
	return nil
}

// load replaces the book with the stored snapshot. A missing snapshot
// leaves the book untouched and reports false.
func (a *account) load(ctx context.Context) (bool, error) {
	if a.persister == nil {
		return false, nil
	}
	snap, err := a.persister.LoadAccount(ctx, a.id)
	if errors.Is(err, ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load account %s: %w", a.id, err)
	}
	book := BookFromSnapshot(snap)
	a.mu.Lock()
	a.book = book
	a.mu.Unlock()
	return true, nil
}

// VirtualAccount is a purely local account persisted as a unit.
type VirtualAccount struct {
	*account
}

var _ Account = (*VirtualAccount)(nil)

// NewVirtualAccount creates a virtual account holding initialBalance of
// market until a snapshot is loaded.
func NewVirtualAccount(id, market string, initialBalance decimal.Decimal, p Persister, logger *zap.Logger) *VirtualAccount {
	return &VirtualAccount{account: newAccount(id, market, initialBalance, p, logger)}
}

func (a *VirtualAccount) Load(ctx context.Context) error {
	found, err := a.load(ctx)
	if err != nil {
		return err
	}
	if found {
		a.logger.Info("virtual account loaded",
			zap.String("balance", a.Balance().String()),
			zap.Int("positions", a.PositionCount()),
		)
	}
	return nil
}

// Refresh is a no-op: the local book is authoritative.
func (a *VirtualAccount) Refresh(context.Context) error { return nil }

// TradeSource is the part of the exchange a live account reconciles from.
type TradeSource interface {
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	Trades(ctx context.Context, pair string) ([]exchange.OrderDetails, error)
}

// MarketNormalizer expresses a fill on another quote market in the
// account market.
type MarketNormalizer interface {
	Normalize(ctx context.Context, d exchange.OrderDetails) (exchange.OrderDetails, error)
}

// LiveAccount mirrors an exchange account. Refresh rebuilds the book from
// the exchange balances and fill history.
type LiveAccount struct {
	*account
	source  TradeSource
	conv    FeeConverter
	norm    MarketNormalizer
	markets []string
}

var _ Account = (*LiveAccount)(nil)

// NewLiveAccount creates a live account reconciled from src. When conv
// is also a MarketNormalizer, fills on other quote markets are folded into
// the account market pair on refresh.
func NewLiveAccount(id, market string, src TradeSource, conv FeeConverter, p Persister, logger *zap.Logger) *LiveAccount {
	norm, _ := conv.(MarketNormalizer)
	return &LiveAccount{
		account: newAccount(id, market, decimal.Zero, p, logger),
		source:  src,
		conv:    conv,
		norm:    norm,
	}
}

// ReconcileMarkets sets the other quote markets whose fills Refresh folds
// in for every held currency. A position's ArbitrageMarket is always
// folded in.
func (a *LiveAccount) ReconcileMarkets(markets ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markets = append([]string(nil), markets...)
}

// Load restores the stored snapshot (for metadata) and then refreshes.
func (a *LiveAccount) Load(ctx context.Context) error {
	if _, err := a.load(ctx); err != nil {
		return err
	}
	return a.Refresh(ctx)
}

// Refresh replays the exchange fill history of every held currency through
// the shared book routines. Metadata and current prices are carried over
// from the previous book. On any error the previous book is kept.
func (a *LiveAccount) Refresh(ctx context.Context) error {
	balances, err := a.source.Balances(ctx)
	if err != nil {
		return fmt.Errorf("refresh account %s: balances: %w", a.id, err)
	}
	prev := a.Snapshot()
	a.mu.Lock()
	extra := append([]string(nil), a.markets...)
	a.mu.Unlock()

	currencies := make([]string, 0, len(balances))
	for c := range balances {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	book := NewBook(balances[a.market])
	for _, currency := range currencies {
		if currency == a.market || !balances[currency].IsPositive() {
			continue
		}
		pair := currency + a.market
		old, hadOld := prev.Positions[pair]
		markets := extra
		if hadOld && old.Metadata.ArbitrageMarket != "" {
			markets = append(append([]string(nil), extra...), old.Metadata.ArbitrageMarket)
		}
		pos, err := a.replay(ctx, pair, markets)
		if err != nil {
			return fmt.Errorf("refresh account %s: %s: %w", a.id, pair, err)
		}
		if pos == nil {
			continue
		}
		if hadOld {
			pos.Metadata = old.Metadata.clone()
			pos.CurrentPrice = old.CurrentPrice
			pos.CurrentSpread = old.CurrentSpread
		}
		book.Positions[pair] = pos
	}

	a.mu.Lock()
	a.book = book
	a.mu.Unlock()

	a.logger.Debug("account refreshed",
		zap.String("balance", book.Balance.String()),
		zap.Int("positions", len(book.Positions)),
	)
	return nil
}

func (a *LiveAccount) replay(ctx context.Context, pair string, markets []string) (*Position, error) {
	trades, err := a.source.Trades(ctx, pair)
	if err != nil {
		return nil, err
	}
	other, err := a.otherMarketTrades(ctx, pair, markets)
	if err != nil {
		return nil, err
	}
	trades = append(trades, other...)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Date.Before(trades[j].Date) })

	scratch := NewBook(decimal.Zero)
	for _, d := range trades {
		f, err := NewFill(ctx, d, a.market, a.conv, Metadata{})
		if errors.Is(err, ErrNotFilled) {
			continue
		}
		if err != nil {
			return nil, err
		}
		switch d.Side {
		case exchange.Buy:
			if err := scratch.ApplyBuy(f); err != nil {
				return nil, err
			}
		case exchange.Sell:
			if _, err := scratch.ApplySell(f); err != nil && !errors.Is(err, ErrNoPosition) {
				return nil, err
			}
		}
	}
	pos, ok := scratch.Positions[pair]
	if !ok || !pos.Amount().IsPositive() {
		return nil, nil
	}
	return pos, nil
}

// otherMarketTrades returns the filled trades of pair's base currency on
// markets, normalized to the account market pair.
func (a *LiveAccount) otherMarketTrades(ctx context.Context, pair string, markets []string) ([]exchange.OrderDetails, error) {
	if a.norm == nil {
		return nil, nil
	}
	seen := map[string]bool{a.market: true, exchange.BaseCurrency(pair, a.market): true}
	var out []exchange.OrderDetails
	for _, m := range markets {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		symbol, err := exchange.ChangeMarket(pair, m)
		if err != nil {
			return nil, err
		}
		trades, err := a.source.Trades(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", symbol, err)
		}
		for _, d := range trades {
			if !d.IsFilled() {
				continue
			}
			nd, err := a.norm.Normalize(ctx, d)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", symbol, err)
			}
			out = append(out, nd)
		}
	}
	return out, nil
}
