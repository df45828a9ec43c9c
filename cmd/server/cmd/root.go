// Package cmd is the trade-engine command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "trade-engine",
	Short: "Automated pair trading controller",
	Long: `trade-engine buys and sells exchange pairs on behalf of one account.

It evaluates signal rules to open positions, resolves an effective trading
policy per pair from the rules file, follows prices with trailing buys and
sells, averages down through DCA levels, and swaps stale positions.

Configuration is read from a YAML file (--config) and TRADER_* environment
variables; the trading policy and rules come from the rules file it names.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file (defaults and TRADER_* variables apply)")
}
