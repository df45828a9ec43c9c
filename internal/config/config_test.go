package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trade-engine/internal/config"
	"github.com/atmx/trade-engine/internal/rules"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "BTC", cfg.Market)
	assert.True(t, cfg.VirtualTrading)
	assert.Equal(t, config.StoreMemory, cfg.Store.Type)
	assert.Equal(t, config.JournalNone, cfg.Journal.Type)
	assert.Equal(t, time.Second, cfg.Intervals.Trading)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "1", cfg.InitialBalance().String())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeFile(t, "trader.yaml", `
market: USDT
speed: 10
arbitrage_markets: [BTC, ETH]
account:
  id: paper-usdt
  initial_balance: "1000"
intervals:
  trading: 500ms
store:
  type: file
  path: /tmp/accounts
limits:
  max_per_pair: "100"
  groups:
    layer1: [ETH, SOL]
`)
	t.Setenv("TRADER_HTTP_ADDR", ":9090")
	t.Setenv("TRADER_JOURNAL_TYPE", "sqlite")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "USDT", cfg.Market)
	assert.Equal(t, 10.0, cfg.Speed)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.ArbitrageMarkets)
	assert.Equal(t, "paper-usdt", cfg.Account.ID)
	assert.Equal(t, 500*time.Millisecond, cfg.Intervals.Trading)
	assert.Equal(t, config.StoreFile, cfg.Store.Type)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, config.JournalSQLite, cfg.Journal.Type)
	assert.Equal(t, []string{"ETH", "SOL"}, cfg.Limits.Groups["layer1"])

	perPair, correlated, total := cfg.Limits.Caps()
	assert.Equal(t, "100", perPair.String())
	assert.True(t, correlated.IsZero())
	assert.True(t, total.IsZero())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"empty market", func(c *config.Config) { c.Market = "" }},
		{"zero speed", func(c *config.Config) { c.Speed = 0 }},
		{"bad balance", func(c *config.Config) { c.Account.InitialBalance = "lots" }},
		{"fee rate of one", func(c *config.Config) { c.Account.FeeRate = "1" }},
		{"unknown store", func(c *config.Config) { c.Store.Type = "etcd" }},
		{"postgres without url", func(c *config.Config) { c.Store.Type = config.StorePostgres }},
		{"mongo without uri", func(c *config.Config) { c.Journal.Type = config.JournalMongo }},
		{"negative limit", func(c *config.Config) { c.Limits.MaxTotal = "-5" }},
		{"live without refresh", func(c *config.Config) {
			c.VirtualTrading = false
			c.Intervals.AccountRefresh = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

const rulesYAML = `
trading:
  market: BTC
  max_pairs: 3
  buy_enabled: true
  buy_max_cost: 0.1
  buy_trailing: 1
  buy_trailing_stop_margin: -5
  buy_trailing_stop_action: execute
  sell_enabled: true
  sell_margin: 3
  swap_enabled: true
  swap_signal_rules: [strong]
  dca_levels:
    - margin: -5
    - margin: -10
      buy_multiplier: 2
trading_rules:
  processing_mode: all_matches
  rules:
    - name: calm
      enabled: true
      conditions:
        - max_volatility: 2
      modifiers:
        sell_margin: 1.5
signal_rules:
  processing_mode: first_match
  rules:
    - name: strong
      enabled: true
      conditions:
        - signal: tv
          min_rating: 0.5
      trailing:
        enabled: true
        min_duration: 60
        max_duration: 600
        start_conditions:
          - signal: tv
            min_rating: 0.3
`

func TestLoadRules(t *testing.T) {
	rf, err := config.LoadRules(writeFile(t, "rules.yaml", rulesYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, rf.Trading.MaxPairs)
	assert.Equal(t, rules.StopActionExecute, rf.Trading.BuyTrailingStopAction)
	require.Len(t, rf.Trading.DCALevels, 2)
	require.NotNil(t, rf.Trading.DCALevels[1].BuyMultiplier)
	assert.Equal(t, 2.0, *rf.Trading.DCALevels[1].BuyMultiplier)

	require.Len(t, rf.TradingRules.Rules, 1)
	require.NotNil(t, rf.TradingRules.Rules[0].Modifiers.SellMargin)
	assert.Equal(t, 1.5, *rf.TradingRules.Rules[0].Modifiers.SellMargin)

	assert.True(t, rf.SignalRules.FirstMatch())
	strong, ok := rf.SignalRules.Rule("strong")
	require.True(t, ok)
	require.NotNil(t, strong.Trailing)
	assert.Equal(t, 60.0, strong.Trailing.MinDuration)
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "trading: ["},
		{"bad stop action", "trading:\n  buy_trailing_stop_action: panic\n"},
		{"bad mode", "signal_rules:\n  processing_mode: some\n"},
		{"duplicate rule", "trading_rules:\n  rules:\n    - name: a\n    - name: a\n"},
		{"unknown swap rule", "trading:\n  swap_signal_rules: [ghost]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadRules(writeFile(t, "rules.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSaveRules_RoundTrip(t *testing.T) {
	rf, err := config.LoadRules(writeFile(t, "rules.yaml", rulesYAML))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "copy.yaml")
	require.NoError(t, config.SaveRules(out, rf))
	again, err := config.LoadRules(out)
	require.NoError(t, err)
	assert.Equal(t, rf.Trading.DCALevels, again.Trading.DCALevels)
	assert.Equal(t, rf.TradingRules.Rules, again.TradingRules.Rules)
	assert.Equal(t, rf.SignalRules, again.SignalRules)
}
