// Package trading turns policies, signals and prices into orders. It owns
// the buy, sell and swap decision paths, the trailing book, and the
// periodic tasks that drive them.
//
// Every decision runs under a single mutex: the eligibility checks, the
// order and the ledger update of one decision never interleave with another.
package trading

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/clock"
	"github.com/atmx/trade-engine/internal/correlation"
	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/journal"
	"github.com/atmx/trade-engine/internal/ledger"
	"github.com/atmx/trade-engine/internal/metrics"
	"github.com/atmx/trade-engine/internal/model"
	"github.com/atmx/trade-engine/internal/notify"
	"github.com/atmx/trade-engine/internal/policy"
	"github.com/atmx/trade-engine/internal/rules"
	"github.com/atmx/trade-engine/internal/trailing"
)

// HealthReporter receives the outcome of health-relevant operations.
type HealthReporter interface {
	Report(check string, err error)
}

type nopHealth struct{}

func (nopHealth) Report(string, error) {}

// Config wires a Service. Account, Exchange and Resolver are required.
type Config struct {
	Account     ledger.Account
	Exchange    exchange.Exchange
	Resolver    *policy.Resolver
	SignalRules rules.Module
	Journal     journal.Journal
	Notifier    notify.Notifier
	Health      HealthReporter
	Limiter     *correlation.PositionLimiter
	Clock       clock.Clock
	Logger      *zap.Logger

	// Virtual fills orders locally at the current price instead of
	// sending them to the exchange.
	Virtual bool
	// FeeRate is charged on virtual fills.
	FeeRate decimal.Decimal
}

// Service executes trading decisions for one account.
type Service struct {
	account     ledger.Account
	exchange    exchange.Exchange
	resolver    *policy.Resolver
	signalRules rules.Module
	journal     journal.Journal
	notifier    notify.Notifier
	health      HealthReporter
	limiter     *correlation.PositionLimiter
	clock       clock.Clock
	logger      *zap.Logger
	market      string
	virtual     bool
	feeRate     decimal.Decimal
	conv        ledger.PriceConverter
	trails      *trailing.Book[BuyOptions, SellOptions]

	mu           sync.Mutex
	lastBuy      map[string]time.Time
	signalTrails map[string]signalTrail

	suspended     atomic.Bool
	statusMu      sync.Mutex
	suspendReason string
}

// signalTrail is a signal rule whose start conditions matched and which
// waits for its own conditions.
type signalTrail struct {
	rule    string
	started time.Time
}

// NewService creates a service. Trading starts resumed.
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Health == nil {
		cfg.Health = nopHealth{}
	}
	market := cfg.Account.Market()
	return &Service{
		account:      cfg.Account,
		exchange:     cfg.Exchange,
		resolver:     cfg.Resolver,
		signalRules:  cfg.SignalRules,
		journal:      cfg.Journal,
		notifier:     cfg.Notifier,
		health:       cfg.Health,
		limiter:      cfg.Limiter,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With(zap.String("account", cfg.Account.ID())),
		market:       market,
		virtual:      cfg.Virtual,
		feeRate:      cfg.FeeRate,
		conv:         ledger.PriceConverter{Prices: cfg.Exchange, Market: market},
		trails:       trailing.NewBook[BuyOptions, SellOptions](),
		lastBuy:      make(map[string]time.Time),
		signalTrails: make(map[string]signalTrail),
	}
}

// Account returns the traded account.
func (s *Service) Account() ledger.Account { return s.account }

// Virtual reports whether orders are filled locally.
func (s *Service) Virtual() bool { return s.virtual }

// Policy returns the cached policy of pair.
func (s *Service) Policy(pair string) *policy.Policy { return s.resolver.Policy(pair) }

// AccountView builds the account view with the suspension flag.
func (s *Service) AccountView() model.AccountView {
	return model.NewAccountView(s.account, s.virtual, s.IsSuspended())
}

// Trailing returns a copy of the active trailing entries.
func (s *Service) Trailing() (map[string]trailing.Info[BuyOptions], map[string]trailing.Info[SellOptions]) {
	return s.trails.Snapshot()
}

// RecentTrades returns the latest journaled trade results.
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]ledger.TradeResult, error) {
	return s.journal.Recent(ctx, limit)
}

// IsSuspended reports whether automatic trading is suspended.
func (s *Service) IsSuspended() bool { return s.suspended.Load() }

// SuspendReason returns why trading was suspended, if it is.
func (s *Service) SuspendReason() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.suspendReason
}

// Suspend stops automatic buys and sells. Manual orders still execute.
func (s *Service) Suspend(reason string) {
	s.statusMu.Lock()
	s.suspendReason = reason
	s.statusMu.Unlock()
	if s.suspended.Swap(true) {
		return
	}
	metrics.TradingSuspended.Set(1)
	s.logger.Warn("trading suspended", zap.String("reason", reason))
	s.notify(model.EventSuspended, "", reason, nil)
}

// Resume re-enables automatic trading.
func (s *Service) Resume() {
	s.statusMu.Lock()
	s.suspendReason = ""
	s.statusMu.Unlock()
	if !s.suspended.Swap(false) {
		return
	}
	metrics.TradingSuspended.Set(0)
	s.logger.Info("trading resumed")
	s.notify(model.EventResumed, "", "", nil)
}

func (s *Service) notify(typ, pair, msg string, data any) {
	s.notifier.Notify(model.Event{
		Type:    typ,
		Pair:    pair,
		Message: msg,
		Data:    data,
		Time:    s.clock.Now(),
	})
}

func (s *Service) updateGauges() {
	metrics.OpenPositions.Set(float64(s.account.PositionCount()))
	metrics.AccountBalance.Set(s.account.Balance().InexactFloat64())
	buys, sells := s.trails.BuyPairs(), s.trails.SellPairs()
	metrics.TrailingActive.WithLabelValues(string(exchange.Buy)).Set(float64(len(buys)))
	metrics.TrailingActive.WithLabelValues(string(exchange.Sell)).Set(float64(len(sells)))
}

func (s *Service) heldCosts() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range s.account.Positions() {
		out[p.Pair] = p.ActualCost()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
