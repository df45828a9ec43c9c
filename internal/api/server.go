// Package api serves the control and health HTTP API of the trade engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/health"
	"github.com/atmx/trade-engine/internal/ledger"
	"github.com/atmx/trade-engine/internal/metrics"
	"github.com/atmx/trade-engine/internal/model"
	"github.com/atmx/trade-engine/internal/policy"
	"github.com/atmx/trade-engine/internal/scheduler"
	"github.com/atmx/trade-engine/internal/signals"
	"github.com/atmx/trade-engine/internal/trading"
	"github.com/atmx/trade-engine/internal/trailing"
)

const serviceName = "trade-engine"

// Trader is the part of the trading service the API drives.
type Trader interface {
	Buy(ctx context.Context, opts trading.BuyOptions) (bool, string)
	Sell(ctx context.Context, opts trading.SellOptions) (bool, string)
	Swap(ctx context.Context, opts trading.SwapOptions) (bool, string)
	Suspend(reason string)
	Resume()
	AccountView() model.AccountView
	Policy(pair string) *policy.Policy
	Trailing() (map[string]trailing.Info[trading.BuyOptions], map[string]trailing.Info[trading.SellOptions])
	RecentTrades(ctx context.Context, limit int) ([]ledger.TradeResult, error)
}

// HealthSource reports the aggregated health checks.
type HealthSource interface {
	Status() (bool, []health.Check)
}

// TaskSource reports scheduler statistics.
type TaskSource interface {
	AllStats() []scheduler.Stats
}

// PriceFeed accepts quotes pushed by an external price receiver.
type PriceFeed interface {
	SetQuote(pair string, q exchange.Quote)
}

// SignalFeed accepts signals pushed by external signal receivers.
type SignalFeed interface {
	Update(s signals.Signal)
}

// Config wires a Server. Everything but Trader is optional; the feed
// routes are mounted only when their feed is set.
type Config struct {
	Trader    Trader
	Health    HealthSource
	Tasks     TaskSource
	Prices    PriceFeed
	Signals   SignalFeed
	WebSocket http.HandlerFunc
	Logger    *zap.Logger
	Timeout   time.Duration
}

// Server routes the API.
type Server struct {
	cfg    Config
	logger *zap.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", s.getHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.WebSocket != nil {
			r.Get("/ws", s.cfg.WebSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Timeout))

			r.Get("/account", s.getAccount)
			r.Get("/policies/{pair}", s.getPolicy)
			r.Get("/trailing", s.getTrailing)
			r.Get("/trades", s.getTrades)
			r.Get("/tasks", s.getTasks)

			r.Post("/orders/buy", s.postBuy)
			r.Post("/orders/sell", s.postSell)
			r.Post("/orders/swap", s.postSwap)

			r.Post("/trading/suspend", s.postSuspend)
			r.Post("/trading/resume", s.postResume)

			if s.cfg.Prices != nil {
				r.Post("/feed/prices", s.postPrices)
			}
			if s.cfg.Signals != nil {
				r.Post("/feed/signals", s.postSignals)
			}
		})
	})
	return r
}

// --- Request/Response types ---

// OrderRequest is the JSON body of POST /orders/buy and /orders/sell.
// API orders are manual: they bypass trailing and the enabled flags.
type OrderRequest struct {
	Pair           string           `json:"pair"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	MaxCost        *decimal.Decimal `json:"max_cost,omitempty"`
	Market         string           `json:"market,omitempty"`
	IgnoreExisting bool             `json:"ignore_existing,omitempty"`
}

// SwapRequest is the JSON body of POST /orders/swap.
type SwapRequest struct {
	OldPair string `json:"old_pair"`
	NewPair string `json:"new_pair"`
}

// SuspendRequest is the optional JSON body of POST /trading/suspend.
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// PriceUpdate is one element of the POST /feed/prices body. Price sets
// bid and ask together; Bid and Ask set them separately.
type PriceUpdate struct {
	Pair  string           `json:"pair"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Bid   *decimal.Decimal `json:"bid,omitempty"`
	Ask   *decimal.Decimal `json:"ask,omitempty"`
}

// FeedResponse reports how many updates were accepted.
type FeedResponse struct {
	Accepted int `json:"accepted"`
}

// OrderResponse reports the outcome of an order request.
type OrderResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string         `json:"status"`
	Service string         `json:"service"`
	Checks  []health.Check `json:"checks"`
}

// TrailingResponse lists the active trailing entries.
type TrailingResponse struct {
	Buys  map[string]trailing.Info[trading.BuyOptions]  `json:"buys"`
	Sells map[string]trailing.Info[trading.SellOptions] `json:"sells"`
}

// --- Handlers ---

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Service: serviceName, Checks: []health.Check{}}
	status := http.StatusOK
	if s.cfg.Health != nil {
		healthy, checks := s.cfg.Health.Status()
		resp.Checks = checks
		if !healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) getAccount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Trader.AccountView())
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	pair := chi.URLParam(r, "pair")
	if pair == "" {
		writeError(w, "pair is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Trader.Policy(pair))
}

func (s *Server) getTrailing(w http.ResponseWriter, _ *http.Request) {
	buys, sells := s.cfg.Trader.Trailing()
	writeJSON(w, http.StatusOK, TrailingResponse{Buys: buys, Sells: sells})
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	results, err := s.cfg.Trader.RecentTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent trades failed", zap.Error(err))
		writeError(w, "failed to read trade journal", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []ledger.TradeResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) getTasks(w http.ResponseWriter, _ *http.Request) {
	stats := []scheduler.Stats{}
	if s.cfg.Tasks != nil {
		stats = s.cfg.Tasks.AllStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) postBuy(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeOrder(w, r, &req) {
		return
	}
	if req.Amount == nil && req.MaxCost == nil {
		writeError(w, "amount or max_cost is required", http.StatusBadRequest)
		return
	}
	ok, msg := s.cfg.Trader.Buy(r.Context(), trading.BuyOptions{
		Pair:           req.Pair,
		Amount:         req.Amount,
		MaxCost:        req.MaxCost,
		Market:         req.Market,
		IgnoreExisting: req.IgnoreExisting,
		ManualOrder:    true,
	})
	writeOrder(w, ok, msg)
}

func (s *Server) postSell(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeOrder(w, r, &req) {
		return
	}
	ok, msg := s.cfg.Trader.Sell(r.Context(), trading.SellOptions{
		Pair:        req.Pair,
		Amount:      req.Amount,
		Market:      req.Market,
		ManualOrder: true,
	})
	writeOrder(w, ok, msg)
}

func (s *Server) postSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OldPair == "" || req.NewPair == "" {
		writeError(w, "old_pair and new_pair are required", http.StatusBadRequest)
		return
	}
	ok, msg := s.cfg.Trader.Swap(r.Context(), trading.SwapOptions{
		OldPair:     req.OldPair,
		NewPair:     req.NewPair,
		ManualOrder: true,
	})
	writeOrder(w, ok, msg)
}

func (s *Server) postSuspend(w http.ResponseWriter, r *http.Request) {
	req := SuspendRequest{Reason: "suspended via API"}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	s.cfg.Trader.Suspend(req.Reason)
	writeJSON(w, http.StatusOK, s.cfg.Trader.AccountView())
}

func (s *Server) postResume(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Trader.Resume()
	writeJSON(w, http.StatusOK, s.cfg.Trader.AccountView())
}

func (s *Server) postPrices(w http.ResponseWriter, r *http.Request) {
	var updates []PriceUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	quotes := make(map[string]exchange.Quote, len(updates))
	for _, u := range updates {
		q, err := u.quote()
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		quotes[u.Pair] = q
	}
	for pair, q := range quotes {
		s.cfg.Prices.SetQuote(pair, q)
	}
	writeJSON(w, http.StatusOK, FeedResponse{Accepted: len(quotes)})
}

func (u PriceUpdate) quote() (exchange.Quote, error) {
	if u.Pair == "" {
		return exchange.Quote{}, errors.New("pair is required")
	}
	q := exchange.Quote{}
	switch {
	case u.Price != nil:
		q.Bid, q.Ask = *u.Price, *u.Price
	case u.Bid != nil && u.Ask != nil:
		q.Bid, q.Ask = *u.Bid, *u.Ask
	default:
		return q, fmt.Errorf("%s: price or bid and ask are required", u.Pair)
	}
	if !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		return q, fmt.Errorf("%s: prices must be positive", u.Pair)
	}
	if q.Ask.LessThan(q.Bid) {
		return q, fmt.Errorf("%s: ask below bid", u.Pair)
	}
	return q, nil
}

func (s *Server) postSignals(w http.ResponseWriter, r *http.Request) {
	var batch []signals.Signal
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for _, sig := range batch {
		if sig.Name == "" || sig.Pair == "" {
			writeError(w, "signal name and pair are required", http.StatusBadRequest)
			return
		}
	}
	for _, sig := range batch {
		s.cfg.Signals.Update(sig)
	}
	writeJSON(w, http.StatusOK, FeedResponse{Accepted: len(batch)})
}

// --- Helpers ---

func decodeOrder(w http.ResponseWriter, r *http.Request, req *OrderRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if req.Pair == "" {
		writeError(w, "pair is required", http.StatusBadRequest)
		return false
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return false
	}
	if req.MaxCost != nil && !req.MaxCost.IsPositive() {
		writeError(w, "max_cost must be positive", http.StatusBadRequest)
		return false
	}
	if req.Amount != nil && req.MaxCost != nil {
		writeError(w, "set amount or max_cost, not both", http.StatusBadRequest)
		return false
	}
	return true
}

// writeOrder maps a refused order to 409 Conflict.
func writeOrder(w http.ResponseWriter, ok bool, msg string) {
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, OrderResponse{OK: ok, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
