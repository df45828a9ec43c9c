// Package metrics provides Prometheus instrumentation for the trade engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed orders, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_total",
		Help: "Total number of orders filled",
	}, []string{"side"})

	// TradeLatency measures order placement through ledger update.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_trade_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// Rejections counts buy/sell requests refused by eligibility checks.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_rejections_total",
		Help: "Order requests rejected before reaching the exchange",
	}, []string{"side"})

	// ExecutionFaults counts orders that failed at the exchange or ledger.
	ExecutionFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_execution_faults_total",
		Help: "Orders abandoned because of an execution error",
	}, []string{"side"})

	// RealizedProfit accumulates sell profit in the account market currency.
	// It is a gauge because losing trades move it down.
	RealizedProfit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_realized_profit_total",
		Help: "Cumulative realized profit in the account market currency",
	})

	// OpenPositions tracks the number of held pairs.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Number of currently held pairs",
	})

	// AccountBalance tracks the free balance of the account.
	AccountBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_account_balance",
		Help: "Free account balance in the market currency",
	})

	// TrailingActive tracks trailing entries by side.
	TrailingActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trader_trailing_active",
		Help: "Active trailing entries",
	}, []string{"side"})

	// TradingSuspended is 1 while trading is suspended.
	TradingSuspended = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_trading_suspended",
		Help: "1 while trading is suspended",
	})

	// TaskRuns counts scheduler task runs by outcome.
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_task_runs_total",
		Help: "Scheduler task runs",
	}, []string{"task", "status"})

	// TaskDuration measures scheduler task run time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_task_duration_seconds",
		Help:    "Scheduler task run time in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"task"})

	// TaskLag accumulates tick lag past the configured interval.
	TaskLag = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_task_lag_seconds_total",
		Help: "Cumulative scheduler lag in seconds",
	}, []string{"task"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_ws_events_dropped_total",
		Help: "Events dropped because the WebSocket broadcast buffer was full",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// TaskObserver feeds scheduler timings into the task metrics.
type TaskObserver struct{}

// ObserveTask records one task run.
func (TaskObserver) ObserveTask(name string, took, lag time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	TaskRuns.WithLabelValues(name, status).Inc()
	TaskDuration.WithLabelValues(name).Observe(took.Seconds())
	if lag > 0 {
		TaskLag.WithLabelValues(name).Add(lag.Seconds())
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The route pattern keeps label cardinality bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
