package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atmx/trade-engine/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and rules files",
	Long: `Load the application config and the rules file it names, validate both
and print a summary. Nothing is connected or started.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, rf, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	mode := "live"
	if cfg.VirtualTrading {
		mode = "virtual"
	}
	fmt.Fprintf(out, "config ok: account %s, market %s, %s trading at speed %g\n", cfg.Account.ID, cfg.Market, mode, cfg.Speed)
	fmt.Fprintf(out, "  store: %s, journal: %s, http: %s\n", cfg.Store.Type, cfg.Journal.Type, cfg.HTTP.Addr)
	fmt.Fprintf(out, "rules ok: %s\n", cfg.RulesFile)
	fmt.Fprintf(out, "  max pairs: %d, dca levels: %d\n", rf.Trading.MaxPairs, len(rf.Trading.DCALevels))
	fmt.Fprintf(out, "  trading rules: %d (%d enabled)\n", len(rf.TradingRules.Rules), len(rf.TradingRules.EnabledRules()))
	fmt.Fprintf(out, "  signal rules: %d (%d enabled)\n", len(rf.SignalRules.Rules), len(rf.SignalRules.EnabledRules()))
	return nil
}

// loadConfig loads both files and reconciles the rules market with the
// configured one.
func loadConfig() (*config.Config, *config.RulesFile, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	rf, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, nil, err
	}
	switch rf.Trading.Market {
	case "":
		rf.Trading.Market = cfg.Market
	case cfg.Market:
	default:
		return nil, nil, fmt.Errorf("rules market %s does not match configured market %s", rf.Trading.Market, cfg.Market)
	}
	return cfg, rf, nil
}
