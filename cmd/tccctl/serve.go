package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tcc "github.com/couchbaselabs/gotcc"
	"github.com/couchbaselabs/gotcc/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var serveListen string

func init() {
	cmd := newServeCmd()
	cmd.Flags().StringVar(&serveListen, "listen", "", "Address to serve /metrics on (default from config, :9464)")
	rootCmd.AddCommand(cmd)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve transaction record statistics as Prometheus metrics",
		Long: `The serve command periodically scans the database and exposes the number of
pending, stale and abandoned transaction records on /metrics. Abandoned
records are logged on every scan.

Example:
  tccctl serve --listen :9464 --config tccctl.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

type statusKey struct {
	ttype  tcc.TransactionType
	status tcc.Status
}

// recordStats is the result of one scan of the database.
type recordStats struct {
	pending   map[statusKey]int64
	stale     int64
	abandoned int64
}

func collectStats(ctx context.Context, now time.Time) (*recordStats, []*tcc.Transaction, error) {
	admin, closeDB, err := openAdmin(true)
	if err != nil {
		return nil, nil, err
	}
	defer closeDB()

	txs, err := admin.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	stats := &recordStats{pending: make(map[statusKey]int64)}
	var abandoned []*tcc.Transaction
	for _, tx := range txs {
		stats.pending[statusKey{ttype: tx.TransactionType(), status: tx.Status()}]++
		if tx.LastUpdateTime().Before(now.Add(-cfg.RecoverDuration)) {
			stats.stale++
		}
		if tx.RetriedCount() > cfg.MaxRetryCount {
			stats.abandoned++
			abandoned = append(abandoned, tx)
		}
	}
	return stats, abandoned, nil
}

type statsGauges struct {
	lock  sync.Mutex
	stats *recordStats
}

func (g *statsGauges) set(stats *recordStats) {
	g.lock.Lock()
	g.stats = stats
	g.lock.Unlock()
}

func (g *statsGauges) register(meter metric.Meter) error {
	pending, err := meter.Int64ObservableGauge("tcc.records.pending",
		metric.WithDescription("Transaction records held in the database."))
	if err != nil {
		return err
	}
	stale, err := meter.Int64ObservableGauge("tcc.records.stale",
		metric.WithDescription("Transaction records not modified within the recover duration."))
	if err != nil {
		return err
	}
	abandoned, err := meter.Int64ObservableGauge("tcc.records.abandoned",
		metric.WithDescription("Transaction records past the recovery retry ceiling."))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		g.lock.Lock()
		stats := g.stats
		g.lock.Unlock()

		if stats == nil {
			return nil
		}
		for key, count := range stats.pending {
			o.ObserveInt64(pending, count, metric.WithAttributes(
				attribute.String("type", key.ttype.String()),
				attribute.String("status", key.status.String()),
			))
		}
		o.ObserveInt64(stale, stats.stale)
		o.ObserveInt64(abandoned, stats.abandoned)
		return nil
	}, pending, stale, abandoned)
	return err
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := cfg.Serve.Listen
	if serveListen != "" {
		listen = serveListen
	}

	telCfg := cfg.Telemetry
	telCfg.Enabled = true
	tel, shutdown, err := telemetry.New(telCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	gauges := &statsGauges{}
	if err := gauges.register(tel.MeterProvider.Meter("tccctl")); err != nil {
		return fmt.Errorf("failed to register gauges: %w", err)
	}

	scan := func() {
		stats, abandoned, err := collectStats(ctx, time.Now())
		if err != nil {
			log.Error("scan failed", zap.String("db", cfg.DB), zap.Error(err))
			return
		}
		gauges.set(stats)
		for _, tx := range abandoned {
			log.Warn("transaction past retry ceiling",
				zap.Stringer("xid", tx.Xid()),
				zap.Stringer("status", tx.Status()),
				zap.Int("retriedCount", tx.RetriedCount()))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", zap.String("listen", listen), zap.String("db", cfg.DB))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	scan()
	ticker := time.NewTicker(cfg.Serve.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			scan()
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
