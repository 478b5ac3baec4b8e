package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deleteForce bool

func init() {
	cmd := newDeleteCmd()
	cmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Don't prompt for confirmation")
	rootCmd.AddCommand(cmd)
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <xid>",
		Short: "Delete a transaction record without terminating it",
		Long: `The delete command removes a transaction record. Its participants are not
confirmed or cancelled; use it only after resolving them by hand.

Example:
  tccctl delete 5b3c...:91fe...
  tccctl delete 5b3c...:91fe... --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), args[0])
		},
	}
}

func runDelete(ctx context.Context, arg string) error {
	xid, err := parseXidArg(arg)
	if err != nil {
		return err
	}

	admin, closeDB, err := openAdmin(false)
	if err != nil {
		return err
	}
	defer closeDB()

	tx, err := admin.Get(ctx, xid)
	if err != nil {
		return fmt.Errorf("failed to get transaction: %w", err)
	}

	if !deleteForce && !jsonOut {
		printInfo("\nDeleting transaction %s\n", xid)
		printInfo("  Status:       %s\n", statusString(tx.Status()))
		printInfo("  Participants: %d\n", len(tx.Participants()))
		printInfo("\n%s participants will not be confirmed or cancelled.\n", color.YellowString("⚠"))
		printInfo("Proceed? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			printInfo("Aborted.\n")
			return nil
		}
	}

	if err := admin.Delete(ctx, xid); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	log.Info("deleted transaction", zap.Stringer("xid", xid), zap.Stringer("status", tx.Status()))

	if jsonOut {
		return printJSON(map[string]interface{}{
			"xid":     xid.String(),
			"status":  tx.Status().String(),
			"deleted": true,
		})
	}
	printInfo("%s transaction deleted\n", color.GreenString("✓"))
	return nil
}
