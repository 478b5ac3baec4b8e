package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(newResetRetryCmd())
}

func newResetRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-retry <xid>",
		Short: "Reset the recovery retry count of a transaction",
		Long: `The reset-retry command sets the retry count of a record back to zero, so the
coordinator's recovery job attempts to confirm or cancel it again.

Example:
  tccctl reset-retry 5b3c...:91fe...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetRetry(cmd.Context(), args[0])
		},
	}
}

func runResetRetry(ctx context.Context, arg string) error {
	xid, err := parseXidArg(arg)
	if err != nil {
		return err
	}

	admin, closeDB, err := openAdmin(false)
	if err != nil {
		return err
	}
	defer closeDB()

	tx, err := admin.ResetRetryCount(ctx, xid)
	if err != nil {
		return fmt.Errorf("failed to reset retry count: %w", err)
	}
	log.Info("reset retry count", zap.Stringer("xid", xid), zap.Int64("version", tx.Version()))

	if jsonOut {
		return printJSON(newTransactionView(tx))
	}
	printInfo("%s retry count reset for %s (version %d)\n", color.GreenString("✓"), xid, tx.Version())
	return nil
}
