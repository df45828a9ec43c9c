package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/config"
	"github.com/atmx/trade-engine/internal/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect and remove stored account snapshots",
	Long: `Work on the account snapshots in the configured store.

Stop the controller before deleting the snapshot of the account it trades;
a running controller saves its book again after the next fill.`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts with their balance and position count",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <account-id>",
	Short: "Delete the stored snapshot of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsDelete,
}

func init() {
	accountsCmd.AddCommand(accountsListCmd, accountsDeleteCmd)
	rootCmd.AddCommand(accountsCmd)
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, closeStore, err := openStore(ctx, cfg.Store, zap.NewNop())
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, st)
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		ids, err := st.ListAccounts(ctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "no stored accounts")
			return nil
		}
		for _, id := range ids {
			snap, err := st.LoadAccount(ctx, id)
			if err != nil {
				return fmt.Errorf("load account %s: %w", id, err)
			}
			fmt.Fprintf(out, "%s\tbalance %s\tpositions %d\n", id, snap.Balance, len(snap.Positions))
		}
		return nil
	})
}

func runAccountsDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		if err := st.DeleteAccount(ctx, id); err != nil {
			return fmt.Errorf("delete account %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted account %s\n", id)
		return nil
	})
}
