// Package config loads the application configuration and the trading
// rules file.
//
// The application config is read with viper from an optional YAML file;
// every key can be overridden from the environment with the TRADER_
// prefix, dots replaced by underscores (TRADER_STORE_DATABASE_URL).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRADER"

// Store and journal backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"

	JournalNone   = "none"
	JournalSQLite = "sqlite"
	JournalMongo  = "mongo"
)

// Config is the application configuration.
type Config struct {
	Market         string  `mapstructure:"market"`
	Speed          float64 `mapstructure:"speed"`
	VirtualTrading bool    `mapstructure:"virtual_trading"`
	RulesFile      string  `mapstructure:"rules_file"`
	// GlobalRatingSignals are the signals averaged into the global rating.
	GlobalRatingSignals []string `mapstructure:"global_rating_signals"`
	// ArbitrageMarkets are the other quote markets a live account
	// reconciles fills from.
	ArbitrageMarkets []string `mapstructure:"arbitrage_markets"`

	Account   AccountConfig   `mapstructure:"account"`
	Intervals IntervalsConfig `mapstructure:"intervals"`
	Store     StoreConfig     `mapstructure:"store"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

// AccountConfig identifies the traded account. Amounts are decimal strings.
type AccountConfig struct {
	ID             string `mapstructure:"id"`
	InitialBalance string `mapstructure:"initial_balance"`
	FeeRate        string `mapstructure:"fee_rate"`
}

// IntervalsConfig holds the periodic task intervals before time dilation.
type IntervalsConfig struct {
	Trading        time.Duration `mapstructure:"trading"`
	Rules          time.Duration `mapstructure:"rules"`
	SignalRules    time.Duration `mapstructure:"signal_rules"`
	AccountRefresh time.Duration `mapstructure:"account_refresh"`
	StartDelay     time.Duration `mapstructure:"start_delay"`
}

// StoreConfig selects the account snapshot store.
type StoreConfig struct {
	Type        string        `mapstructure:"type"`
	Path        string        `mapstructure:"path"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// JournalConfig selects the trade journal.
type JournalConfig struct {
	Type          string `mapstructure:"type"`
	Path          string `mapstructure:"path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// LimitsConfig caps exposure per pair, per correlation group and in
// total, in the market currency. Zero disables a cap.
type LimitsConfig struct {
	MaxPerPair    string              `mapstructure:"max_per_pair"`
	MaxCorrelated string              `mapstructure:"max_correlated"`
	MaxTotal      string              `mapstructure:"max_total"`
	Groups        map[string][]string `mapstructure:"groups"`
}

// HTTPConfig configures the control API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market", "BTC")
	v.SetDefault("speed", 1.0)
	v.SetDefault("virtual_trading", true)
	v.SetDefault("rules_file", "configs/rules.yaml")
	v.SetDefault("global_rating_signals", []string{})
	v.SetDefault("arbitrage_markets", []string{})

	v.SetDefault("account.id", "default")
	v.SetDefault("account.initial_balance", "1")
	v.SetDefault("account.fee_rate", "0.001")

	v.SetDefault("intervals.trading", "1s")
	v.SetDefault("intervals.rules", "3s")
	v.SetDefault("intervals.signal_rules", "3s")
	v.SetDefault("intervals.account_refresh", "1m")
	v.SetDefault("intervals.start_delay", "0s")

	v.SetDefault("store.type", StoreMemory)
	v.SetDefault("store.path", "data/accounts")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.cache_ttl", "30s")

	v.SetDefault("journal.type", JournalNone)
	v.SetDefault("journal.path", "data/journal.sqlite")
	v.SetDefault("journal.mongo_uri", "")
	v.SetDefault("journal.mongo_database", "trader")

	v.SetDefault("limits.max_per_pair", "0")
	v.SetDefault("limits.max_correlated", "0")
	v.SetDefault("limits.max_total", "0")
	v.SetDefault("limits.groups", map[string][]string{})

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads path (optional) and the environment, then validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Market == "" {
		errs = append(errs, errors.New("market is required"))
	}
	if c.Speed <= 0 {
		errs = append(errs, errors.New("speed must be positive"))
	}
	if c.Account.ID == "" {
		errs = append(errs, errors.New("account.id is required"))
	}
	if b, err := decimal.NewFromString(c.Account.InitialBalance); err != nil || b.IsNegative() {
		errs = append(errs, fmt.Errorf("account.initial_balance must be a non-negative decimal, got %q", c.Account.InitialBalance))
	}
	if f, err := decimal.NewFromString(c.Account.FeeRate); err != nil || f.IsNegative() || f.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("account.fee_rate must be in [0, 1), got %q", c.Account.FeeRate))
	}
	if c.Intervals.Trading <= 0 || c.Intervals.Rules <= 0 || c.Intervals.SignalRules <= 0 {
		errs = append(errs, errors.New("intervals.trading, intervals.rules and intervals.signal_rules must be positive"))
	}
	if !c.VirtualTrading && c.Intervals.AccountRefresh <= 0 {
		errs = append(errs, errors.New("intervals.account_refresh must be positive for live trading"))
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file store"))
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type must be memory, file or postgres, got %q", c.Store.Type))
	}

	switch c.Journal.Type {
	case JournalNone:
	case JournalSQLite:
		if c.Journal.Path == "" {
			errs = append(errs, errors.New("journal.path is required for the sqlite journal"))
		}
	case JournalMongo:
		if c.Journal.MongoURI == "" || c.Journal.MongoDatabase == "" {
			errs = append(errs, errors.New("journal.mongo_uri and journal.mongo_database are required for the mongo journal"))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.type must be none, sqlite or mongo, got %q", c.Journal.Type))
	}

	for key, v := range map[string]string{
		"limits.max_per_pair":   c.Limits.MaxPerPair,
		"limits.max_correlated": c.Limits.MaxCorrelated,
		"limits.max_total":      c.Limits.MaxTotal,
	} {
		if d, err := decimal.NewFromString(v); err != nil || d.IsNegative() {
			errs = append(errs, fmt.Errorf("%s must be a non-negative decimal, got %q", key, v))
		}
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.RulesFile == "" {
		errs = append(errs, errors.New("rules_file is required"))
	}
	return errors.Join(errs...)
}

// InitialBalance is the starting balance of a virtual account.
func (c *Config) InitialBalance() decimal.Decimal {
	return decimal.RequireFromString(c.Account.InitialBalance)
}

// FeeRate is charged on virtual fills.
func (c *Config) FeeRate() decimal.Decimal {
	return decimal.RequireFromString(c.Account.FeeRate)
}

// Caps returns the parsed exposure caps. Call after Validate.
func (l LimitsConfig) Caps() (perPair, correlated, total decimal.Decimal) {
	parse := func(v string) decimal.Decimal {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return parse(l.MaxPerPair), parse(l.MaxCorrelated), parse(l.MaxTotal)
}
