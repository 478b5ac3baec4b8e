package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	tcc "github.com/couchbaselabs/gotcc"
	"github.com/couchbaselabs/gotcc/internal/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	dbPath     string
	logLevel   string
	jsonOut    bool
	noColor    bool

	cfg *fileConfig
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tccctl",
	Short: "Inspect and repair TCC transaction records",
	Long: `tccctl works on the bolt database in which a TCC coordinator keeps its
pending transaction records. It lists stale and abandoned records, resets the
retry count of records the recovery job gave up on, deletes records by hand,
and can serve record statistics as Prometheus metrics.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			loaded.DB = dbPath
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		if noColor {
			color.NoColor = true
		}

		log, err = logger.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "tcc.db", "Path to the bolt database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// openAdmin opens the configured database.  The returned func closes it.
func openAdmin(readOnly bool) (*tcc.Admin, func(), error) {
	repo, err := tcc.OpenBoltRepository(cfg.DB, &tcc.BoltRepositoryOptions{
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.DB, err)
	}

	return tcc.NewAdmin(repo), func() {
		if err := repo.Close(); err != nil {
			log.Warn("failed to close database", zap.String("db", cfg.DB), zap.Error(err))
		}
	}, nil
}

func parseXidArg(arg string) (tcc.Xid, error) {
	xid, err := tcc.ParseXid(arg)
	if err != nil {
		return tcc.Xid{}, fmt.Errorf("invalid xid: %w", err)
	}
	return xid, nil
}

// Helper functions for output

func printInfo(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}

func printError(format string, args ...interface{}) {
	fmt.Fprint(os.Stderr, color.RedString("Error: ")+fmt.Sprintf(format, args...))
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func statusString(status tcc.Status) string {
	switch status {
	case tcc.StatusTrying:
		return color.YellowString(status.String())
	case tcc.StatusConfirming:
		return color.GreenString(status.String())
	case tcc.StatusCancelling:
		return color.RedString(status.String())
	default:
		return status.String()
	}
}

type invocationView struct {
	Target         string            `json:"target"`
	Operation      string            `json:"operation"`
	ParameterTypes []string          `json:"parameter_types,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type participantView struct {
	Xid           string          `json:"xid"`
	ContextEditor string          `json:"context_editor"`
	Confirm       *invocationView `json:"confirm,omitempty"`
	Cancel        *invocationView `json:"cancel,omitempty"`
}

type transactionView struct {
	Xid            string            `json:"xid"`
	Type           string            `json:"type"`
	Status         string            `json:"status"`
	Version        int64             `json:"version"`
	RetriedCount   int               `json:"retried_count"`
	Abandoned      bool              `json:"abandoned"`
	CreateTime     time.Time         `json:"create_time"`
	LastUpdateTime time.Time         `json:"last_update_time"`
	Attachments    map[string]string `json:"attachments,omitempty"`
	Participants   []participantView `json:"participants,omitempty"`
}

func newInvocationView(inv *tcc.Invocation) *invocationView {
	if inv == nil {
		return nil
	}
	return &invocationView{
		Target:         inv.TargetType,
		Operation:      inv.Operation,
		ParameterTypes: inv.ParameterTypes,
		Arguments:      inv.Arguments,
		Metadata:       inv.Metadata,
	}
}

func newTransactionView(tx *tcc.Transaction) transactionView {
	view := transactionView{
		Xid:            tx.Xid().String(),
		Type:           tx.TransactionType().String(),
		Status:         tx.Status().String(),
		Version:        tx.Version(),
		RetriedCount:   tx.RetriedCount(),
		Abandoned:      tx.RetriedCount() > cfg.MaxRetryCount,
		CreateTime:     tx.CreateTime(),
		LastUpdateTime: tx.LastUpdateTime(),
		Attachments:    tx.Attachments(),
	}
	for _, p := range tx.Participants() {
		view.Participants = append(view.Participants, participantView{
			Xid:           p.Xid.String(),
			ContextEditor: p.ContextEditor,
			Confirm:       newInvocationView(p.Confirm),
			Cancel:        newInvocationView(p.Cancel),
		})
	}
	return view
}
