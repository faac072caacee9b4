package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/audit"
	"github.com/vlikhobabin/camunda-bridge/internal/config"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/logging"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/recovery"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
)

var (
	recoveryWorkerID string
	recoveryMaxAge   int
	recoveryDaemon   bool
	recoveryCron     string
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Unlock and fail back external tasks stuck with no trace in the broker queues",
	RunE:  runRecovery,
}

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.Flags().StringVar(&recoveryWorkerID, "worker-id", "", "restrict the scan to one worker (default: all)")
	recoveryCmd.Flags().IntVar(&recoveryMaxAge, "max-age-minutes", 0, "staleness threshold in minutes (default: 30)")
	recoveryCmd.Flags().BoolVar(&recoveryDaemon, "daemon", false, "run on a recurring cron schedule instead of once")
	recoveryCmd.Flags().StringVar(&recoveryCron, "cron", "*/5 * * * *", "cron schedule used with --daemon")
}

func runRecovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	table, err := loadTable()
	if err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	zlog, err := logging.New(cfg.Ambient.LogLevel, false)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zlog.Sync()

	eng := newEngineClient(cfg)
	opts := recovery.Options{WorkerID: recoveryWorkerID, MaxAgeMinutes: recoveryMaxAge}

	if !recoveryDaemon {
		return runRecoveryOnce(cfg, table, eng, opts, zlog)
	}
	return runRecoveryDaemon(cfg, table, eng, opts, zlog)
}

func runRecoveryOnce(cfg *config.Config, table *routing.Table, eng *engine.Client, opts recovery.Options, zlog *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	auditSink, closeAudit := buildAuditSink(cfg, zlog)
	defer closeAudit()

	runner := recovery.New(eng, adapter, table, auditSink, zlog, metrics.New())
	report, err := runner.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("recovery run: %w", err)
	}
	printReport(report)
	return nil
}

// runRecoveryDaemon keeps one broker connection open and runs the Recovery
// Utility on a robfig/cron schedule until interrupted (spec.md §4.9,
// "via cmd/bridgectl recovery --daemon, as a robfig/cron/v3-scheduled
// recurring job").
func runRecoveryDaemon(cfg *config.Config, table *routing.Table, eng *engine.Client, opts recovery.Options, zlog *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zlog.Info("recovery daemon shutting down")
		cancel()
	}()

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	auditSink, closeAudit := buildAuditSink(cfg, zlog)
	defer closeAudit()

	runner := recovery.New(eng, adapter, table, auditSink, zlog, metrics.New())

	c := cron.New()
	if _, err := c.AddFunc(recoveryCron, func() {
		runCtx, runCancel := context.WithTimeout(ctx, 60*time.Second)
		defer runCancel()
		report, err := runner.Run(runCtx, opts)
		if err != nil {
			zlog.Warn("recovery run failed", zap.Error(err))
			return
		}
		zlog.Info("recovery run complete",
			zap.Int("checked", report.Checked), zap.Int("stuck", report.Stuck),
			zap.Int("unlocked", report.Unlocked), zap.Int("failed", report.Failed),
			zap.Int("errors", report.Errors))
	}); err != nil {
		return fmt.Errorf("schedule recovery cron %q: %w", recoveryCron, err)
	}

	c.Start()
	fmt.Printf("recovery daemon running on schedule %q, press Ctrl+C to stop\n", recoveryCron)

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

func printReport(report recovery.Report) {
	fmt.Printf("checked=%d stuck=%d unlocked=%d failed=%d errors=%d\n",
		report.Checked, report.Stuck, report.Unlocked, report.Failed, report.Errors)
}

func buildAuditSink(cfg *config.Config, zlog *zap.Logger) (audit.Sink, func()) {
	if cfg.Ambient.PostgresDSN == "" {
		return audit.NoopSink{}, func() {}
	}
	store, err := audit.Open(cfg.Ambient.PostgresDSN, "internal/audit/migrations")
	if err != nil {
		zlog.Warn("postgres audit sink unavailable, falling back to no-op", zap.Error(err))
		return audit.NoopSink{}, func() {}
	}
	return store, func() { _ = store.Close() }
}
