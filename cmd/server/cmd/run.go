package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atmx/trade-engine/internal/api"
	"github.com/atmx/trade-engine/internal/clock"
	"github.com/atmx/trade-engine/internal/config"
	"github.com/atmx/trade-engine/internal/correlation"
	"github.com/atmx/trade-engine/internal/exchange"
	"github.com/atmx/trade-engine/internal/health"
	"github.com/atmx/trade-engine/internal/journal"
	"github.com/atmx/trade-engine/internal/ledger"
	"github.com/atmx/trade-engine/internal/metrics"
	"github.com/atmx/trade-engine/internal/notify"
	"github.com/atmx/trade-engine/internal/policy"
	"github.com/atmx/trade-engine/internal/scheduler"
	"github.com/atmx/trade-engine/internal/signals"
	"github.com/atmx/trade-engine/internal/store"
	"github.com/atmx/trade-engine/internal/trading"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading controller and its HTTP API",
	Long: `Run the trading controller until SIGINT or SIGTERM.

Prices and signals are pushed through POST /api/v1/feed/prices and
/api/v1/feed/signals; orders fill on the built-in paper exchange.

Example:
  trade-engine run --config configs/trader.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, rf, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	// --- Trade journal ---
	jr, err := openJournal(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() {
		if err := jr.Close(); err != nil {
			logger.Warn("journal close failed", zap.Error(err))
		}
	})

	// --- Exchange and account ---
	clk := clock.Real{}
	speed := clock.Speed(cfg.Speed)
	ex := exchange.NewPaper(clk, cfg.FeeRate())

	var acc ledger.Account
	if cfg.VirtualTrading {
		acc = ledger.NewVirtualAccount(cfg.Account.ID, cfg.Market, cfg.InitialBalance(), st, logger)
	} else {
		ex.SetBalance(cfg.Market, cfg.InitialBalance())
		conv := ledger.PriceConverter{Prices: ex, Market: cfg.Market}
		live := ledger.NewLiveAccount(cfg.Account.ID, cfg.Market, ex, conv, st, logger)
		live.ReconcileMarkets(cfg.ArbitrageMarkets...)
		acc = live
	}
	if err := acc.Load(ctx); err != nil {
		return fmt.Errorf("load account %s: %w", cfg.Account.ID, err)
	}
	logger.Info("account loaded",
		zap.String("account", acc.ID()),
		zap.String("balance", acc.Balance().String()),
		zap.Int("positions", acc.PositionCount()),
	)

	// --- Policy ---
	src := signals.NewMemorySource(cfg.GlobalRatingSignals...)
	resolver := policy.NewResolver(policy.Config{
		Trading:   rf.Trading,
		Rules:     rf.TradingRules,
		Signals:   src,
		Positions: acc,
		Clock:     clk,
		Speed:     speed,
		Logger:    logger.Named("policy"),
	})

	// --- Position limits ---
	maxPerPair, maxCorrelated, maxTotal := cfg.Limits.Caps()
	market := cfg.Market
	limiter := correlation.NewPositionLimiter(maxPerPair, maxCorrelated, maxTotal, cfg.Limits.Groups,
		func(pair string) string { return exchange.BaseCurrency(pair, market) })

	// --- Notifications ---
	registry := health.NewRegistry(clk, logger.Named("health"))
	hub := notify.NewHub(logger.Named("ws"))
	go hub.Run(ctx)

	// --- Trading service ---
	svc := trading.NewService(trading.Config{
		Account:     acc,
		Exchange:    ex,
		Resolver:    resolver,
		SignalRules: rf.SignalRules,
		Journal:     jr,
		Notifier:    notify.Multi{notify.Log{Logger: logger.Named("events")}, hub},
		Health:      registry,
		Limiter:     limiter,
		Clock:       clk,
		Logger:      logger.Named("trading"),
		Virtual:     cfg.VirtualTrading,
		FeeRate:     cfg.FeeRate(),
	})
	if err := svc.ResolveRules(ctx); err != nil {
		logger.Warn("initial rule resolution failed", zap.Error(err))
	}

	// --- Scheduler ---
	pool := scheduler.NewPool(scheduler.Config{
		Speed:    speed,
		Clock:    clk,
		Logger:   logger.Named("scheduler"),
		Health:   registry,
		Observer: metrics.TaskObserver{},
	})
	for _, task := range svc.Tasks(trading.Intervals{
		Trading:        cfg.Intervals.Trading,
		SignalRules:    cfg.Intervals.SignalRules,
		Rules:          cfg.Intervals.Rules,
		AccountRefresh: cfg.Intervals.AccountRefresh,
		StartDelay:     cfg.Intervals.StartDelay,
	}) {
		if err := pool.Add(task); err != nil {
			return fmt.Errorf("schedule %s: %w", task.Name, err)
		}
	}
	pool.Start(ctx)

	// --- Server ---
	server := api.NewServer(api.Config{
		Trader:    svc,
		Health:    registry,
		Tasks:     pool,
		Prices:    ex,
		Signals:   src,
		WebSocket: hub.HandleWS,
		Logger:    logger.Named("http"),
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trade-engine listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.Bool("virtual", cfg.VirtualTrading),
			zap.Float64("speed", cfg.Speed),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	logger.Info("shutting down trade-engine...")
	pool.StopAll(true)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := acc.Save(shutdownCtx); err != nil {
		logger.Error("final account save failed", zap.Error(err))
	}
	cancel()
	logger.Info("trade-engine stopped")
	return serveErr
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// openStore builds the snapshot store and returns its cleanup.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch cfg.Type {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		st = pg
		logger.Info("connected to PostgreSQL")
	case config.StoreFile:
		fs, err := store.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("file store: %w", err)
		}
		st = fs
		logger.Info("using file store", zap.String("path", cfg.Path))
	default:
		logger.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		logger.Info("Redis cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}
	return st, closeAll, nil
}

func openJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (journal.Journal, error) {
	switch cfg.Type {
	case config.JournalSQLite:
		j, err := journal.NewSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite journal: %w", err)
		}
		logger.Info("trade journal: sqlite", zap.String("path", cfg.Path))
		return j, nil
	case config.JournalMongo:
		j, err := journal.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo journal: %w", err)
		}
		logger.Info("trade journal: mongo", zap.String("database", cfg.MongoDatabase))
		return j, nil
	default:
		return journal.Nop{}, nil
	}
}
