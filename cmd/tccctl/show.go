package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newShowCmd())
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <xid>",
		Short: "Show a transaction record and its participants",
		Long: `The show command prints one transaction record, including the confirm and
cancel invocations of every participant.

Example:
  tccctl show 5b3c...:91fe...
  tccctl show 5b3c...:91fe... --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), args[0])
		},
	}
}

func runShow(ctx context.Context, arg string) error {
	xid, err := parseXidArg(arg)
	if err != nil {
		return err
	}

	admin, closeDB, err := openAdmin(true)
	if err != nil {
		return err
	}
	defer closeDB()

	tx, err := admin.Get(ctx, xid)
	if err != nil {
		return fmt.Errorf("failed to get transaction: %w", err)
	}

	view := newTransactionView(tx)
	if jsonOut {
		return printJSON(view)
	}

	printInfo("Xid:          %s\n", view.Xid)
	printInfo("Type:         %s\n", view.Type)
	printInfo("Status:       %s\n", statusString(tx.Status()))
	printInfo("Version:      %d\n", view.Version)
	printInfo("Retries:      %d\n", view.RetriedCount)
	if view.Abandoned {
		printInfo("              past the retry ceiling of %d, use reset-retry to recover again\n", cfg.MaxRetryCount)
	}
	printInfo("Created:      %s\n", view.CreateTime.Format(time.RFC3339))
	printInfo("Last update:  %s\n", view.LastUpdateTime.Format(time.RFC3339))
	for k, v := range view.Attachments {
		printInfo("Attachment:   %s=%s\n", k, v)
	}

	printInfo("\nParticipants: %d\n", len(view.Participants))
	for idx, p := range view.Participants {
		printInfo("  [%d] %s (editor %s)\n", idx, p.Xid, p.ContextEditor)
		if p.Confirm != nil {
			printInfo("      confirm: %s.%s(%d args)\n", p.Confirm.Target, p.Confirm.Operation, len(p.Confirm.Arguments))
		}
		if p.Cancel != nil {
			printInfo("      cancel:  %s.%s(%d args)\n", p.Cancel.Target, p.Cancel.Operation, len(p.Cancel.Arguments))
		}
	}
	return nil
}
