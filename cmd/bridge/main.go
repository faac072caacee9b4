// Command bridge runs the steady-state service: the Poller, the Consumer
// Framework, the Response Loop, and the Reconciliation Tracker, wired
// together against a single RabbitMQ connection and a single Camunda
// engine client (spec.md §2, §5).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/audit"
	"github.com/vlikhobabin/camunda-bridge/internal/config"
	"github.com/vlikhobabin/camunda-bridge/internal/consumer"
	"github.com/vlikhobabin/camunda-bridge/internal/dedupe"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/handler"
	"github.com/vlikhobabin/camunda-bridge/internal/httpapi"
	"github.com/vlikhobabin/camunda-bridge/internal/logging"
	"github.com/vlikhobabin/camunda-bridge/internal/metadata"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/poller"
	"github.com/vlikhobabin/camunda-bridge/internal/reconcile"
	"github.com/vlikhobabin/camunda-bridge/internal/responseloop"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/amqp"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/kafkaaudit"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/natsnotify"
)

func main() {
	var configFile, routingFile string
	flag.StringVar(&configFile, "config", "", "optional YAML config file (overrides env defaults)")
	flag.StringVar(&routingFile, "routing", "routing.yaml", "routing table YAML file")
	flag.Parse()

	if err := run(configFile, routingFile); err != nil {
		log.Fatalf("bridge: %v", err)
	}
}

func run(configFile, routingFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zlog, err := logging.New(cfg.Ambient.LogLevel, false)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zlog.Sync()

	// instanceID distinguishes this process's log lines from a sibling
	// replica sharing the same worker ID (spec.md §6, ambient logging).
	instanceID := uuid.NewString()
	zlog = zlog.With(zap.String("instance_id", instanceID), zap.String("worker_id", cfg.Worker.WorkerID))

	table, err := routing.LoadTable(routingFile)
	if err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zlog.Info("shutdown signal received")
		cancel()
	}()

	if err := routing.WatchTable(routingFile, func(updated *routing.Table, watchErr error) {
		if watchErr != nil {
			zlog.Warn("routing table reload failed, keeping previous table", zap.Error(watchErr))
			return
		}
		table.Replace(updated)
		zlog.Info("routing table reloaded")
	}); err != nil {
		zlog.Warn("routing table hot-reload not available", zap.Error(err))
	}

	engineClient := engine.NewClient(cfg.Camunda.BaseURL, cfg.Camunda.Username, cfg.Camunda.Password, cfg.Camunda.AuthEnabled)

	var adapter transport.Adapter = amqp.New(cfg.RabbitMQ.URL, cfg.RabbitMQ, table, zlog)
	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	m := metrics.New()

	cache := metadata.New(engineClient, cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLHours)*time.Hour, zlog, m)

	dedupeStore, closeDedupe := buildDedupeStore(cfg, zlog)
	defer closeDedupe()

	auditSink, closeAudit := buildAuditSink(cfg, zlog)
	defer closeAudit()

	auditPublisher, closeKafka := buildKafkaAuditor(cfg)
	defer closeKafka()

	notifier, closeNATS := buildNATSNotifier(ctx, cfg, zlog)
	defer closeNATS()

	heartbeat := time.Duration(cfg.Worker.HeartbeatIntervalSeconds) * time.Second

	p := poller.New(engineClient, cache, table, adapter, cfg.RabbitMQ.TasksExchange, poller.Config{
		WorkerID:                   cfg.Worker.WorkerID,
		MaxTasks:                   cfg.Worker.MaxTasks,
		LockDurationMillis:         cfg.Worker.LockDurationMillis,
		AsyncResponseTimeoutMillis: cfg.Worker.AsyncResponseTimeoutMillis,
		SleepSeconds:               cfg.Worker.SleepSeconds,
		RetryAttempts:              cfg.Worker.RetryAttempts,
		Topics:                     cfg.Worker.Topics,
	}, zlog, m)

	cf := consumer.New(adapter, heartbeat, cfg.RabbitMQ.TasksExchange, cfg.RabbitMQ.ErrorRoutingKeyPrefix, zlog, m)
	dispatchers := buildDispatchers(cfg, table, adapter, zlog)

	respLoop := responseloop.New(engineClient, adapter, cfg.RabbitMQ.ResponsesQueue, cfg.Worker.WorkerID, dedupeStore, auditPublisher, zlog, m)

	trackers := buildTrackers(engineClient, adapter, table, cfg, heartbeat, notifier, auditSink, zlog, m)

	healthSrv := httpapi.New(map[string]httpapi.Check{
		"engine": func(ctx context.Context) error {
			_, err := engineClient.ListLockedTasks(ctx, "")
			return err
		},
		"broker": func(ctx context.Context) error {
			_, err := adapter.QueueInfo(ctx, cfg.RabbitMQ.ResponsesQueue)
			return err
		},
	}, adapter, table)

	httpServer := &http.Server{Addr: cfg.Ambient.HTTPListenAddr, Handler: healthSrv}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("http status server stopped", zap.Error(err))
		}
	}()

	var runners []func()
	runners = append(runners, func() { p.Run(ctx) })
	runners = append(runners, func() { cf.Run(ctx, dispatchers) })
	runners = append(runners, func() { runResponseLoop(ctx, respLoop, cfg.Ambient.ResponseMode, heartbeat, zlog) })
	for _, t := range trackers {
		t := t
		runners = append(runners, func() { _ = t.Run(ctx) })
	}

	done := make(chan struct{}, len(runners))
	for _, r := range runners {
		r := r
		go func() {
			r()
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	zlog.Info("bridge shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	for range runners {
		<-done
	}
	return nil
}

func runResponseLoop(ctx context.Context, loop *responseloop.Loop, mode string, interval time.Duration, zlog *zap.Logger) {
	if mode == "pull" {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := loop.Poll(ctx); err != nil {
					zlog.Warn("response loop poll failed", zap.Error(err))
				}
			}
		}
	}

	if err := loop.Consume(ctx); err != nil {
		zlog.Warn("response loop consume ended", zap.Error(err))
	}
}

func buildDispatchers(cfg *config.Config, table *routing.Table, adapter transport.Adapter, zlog *zap.Logger) []consumer.Dispatcher {
	pub := handler.NewPublisher(adapter, table, cfg.RabbitMQ.SentExchange)

	var dispatchers []consumer.Dispatcher
	for system, queue := range table.SystemToQueue() {
		action := handlerActionFor(system, cfg)
		dispatchers = append(dispatchers, handler.New(action, queue, pub, zlog))
	}
	return dispatchers
}

func handlerActionFor(system string, cfg *config.Config) handler.DownstreamAction {
	if system == "slack" && cfg.Ambient.SlackWebhookURL != "" {
		return &handler.SlackHandler{WebhookURL: cfg.Ambient.SlackWebhookURL, Channel: cfg.Ambient.SlackChannel}
	}
	return &handler.StubHandler{System: system}
}

// finalizedPublisher and auditPublisher mirror the narrow interfaces
// reconcile and responseloop each declare, so a disabled ambient
// integration can be passed through as a true nil interface rather than a
// typed nil pointer (which would satisfy the interface but panic on use).
type finalizedPublisher interface {
	Publish(ctx context.Context, event engine.FinalizedEvent) error
}

type auditPublisher interface {
	Publish(ctx context.Context, record engine.OutcomeAuditRecord) error
}

func buildTrackers(eng *engine.Client, adapter transport.Adapter, table *routing.Table, cfg *config.Config, heartbeat time.Duration, notify finalizedPublisher, auditSink audit.Sink, zlog *zap.Logger, m *metrics.Metrics) []*reconcile.Tracker {
	var trackers []*reconcile.Tracker
	for sourceQueue, mirrorQueue := range table.SentQueueMapping() {
		trackers = append(trackers, reconcile.New(eng, adapter, sourceQueue, mirrorQueue, cfg.RabbitMQ.ResponsesExchange, cfg.RabbitMQ.ResponsesQueue, cfg.Worker.WorkerID, heartbeat, notify, auditSink, zlog, m))
	}
	return trackers
}

func buildDedupeStore(cfg *config.Config, zlog *zap.Logger) (dedupe.Store, func()) {
	if cfg.Ambient.RedisURL == "" {
		return dedupe.NewMemoryStore(1 * time.Hour), func() {}
	}
	store, err := dedupe.NewRedisStore(cfg.Ambient.RedisURL, 1*time.Hour)
	if err != nil {
		zlog.Warn("redis dedupe store unavailable, falling back to in-memory", zap.Error(err))
		return dedupe.NewMemoryStore(1 * time.Hour), func() {}
	}
	return store, func() { _ = store.Close() }
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

func buildKafkaAuditor(cfg *config.Config) (auditPublisher, func()) {
	if len(cfg.Ambient.KafkaBrokers) == 0 {
		return nil, func() {}
	}
	producer := kafkaaudit.New(cfg.Ambient.KafkaBrokers, "bridge.outcomes")
	return producer, func() { _ = producer.Close() }
}

func buildNATSNotifier(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (finalizedPublisher, func()) {
	if cfg.Ambient.NATSURL == "" {
		return nil, func() {}
	}
	pub, err := natsnotify.New(ctx, cfg.Ambient.NATSURL, "BRIDGE_EVENTS", "bridge.finalized")
	if err != nil {
		zlog.Warn("nats notifier unavailable", zap.Error(err))
		return nil, func() {}
	}
	return pub, func() { _ = pub.Close() }
}
