package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tcc "github.com/couchbaselabs/gotcc"
	"github.com/spf13/cobra"
)

var (
	listStale     bool
	listOlderThan time.Duration
	listAbandoned bool
)

func init() {
	cmd := newListCmd()
	cmd.Flags().BoolVar(&listStale, "stale", false, "Only records not modified within the recover duration")
	cmd.Flags().DurationVar(&listOlderThan, "older-than", 0, "Only records not modified for this long (overrides --stale)")
	cmd.Flags().BoolVar(&listAbandoned, "abandoned", false, "Only records past the retry ceiling")
	rootCmd.AddCommand(cmd)
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending transaction records",
		Long: `The list command prints the transaction records still held in the database.

Example:
  tccctl list --db /var/lib/tcc/tcc.db
  tccctl list --stale
  tccctl list --abandoned --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context())
		},
	}
}

func runList(ctx context.Context) error {
	admin, closeDB, err := openAdmin(true)
	if err != nil {
		return err
	}
	defer closeDB()

	var txs []*tcc.Transaction
	switch {
	case listAbandoned:
		txs, err = admin.ListAbandoned(ctx, cfg.MaxRetryCount)
	case listOlderThan > 0:
		txs, err = admin.ListStale(ctx, listOlderThan)
	case listStale:
		txs, err = admin.ListStale(ctx, cfg.RecoverDuration)
	default:
		txs, err = admin.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	if jsonOut {
		views := make([]transactionView, 0, len(txs))
		for _, tx := range txs {
			views = append(views, newTransactionView(tx))
		}
		return printJSON(views)
	}

	if len(txs) == 0 {
		printInfo("No transactions found\n")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "XID\tTYPE\tSTATUS\tRETRIES\tVERSION\tPARTICIPANTS\tLAST UPDATE")
	for _, tx := range txs {
		retries := fmt.Sprintf("%d", tx.RetriedCount())
		if tx.RetriedCount() > cfg.MaxRetryCount {
			retries += " (abandoned)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			tx.Xid(),
			tx.TransactionType(),
			statusString(tx.Status()),
			retries,
			tx.Version(),
			len(tx.Participants()),
			tx.LastUpdateTime().Format(time.RFC3339))
	}
	return w.Flush()
}
