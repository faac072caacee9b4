// Package poller runs one long-lived fetch-and-lock loop per topic,
// enriching each claimed task with BPMN metadata and publishing it to the
// broker (spec.md §4.4).
package poller

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/metadata"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// maxConsecutiveErrors terminates a topic's loop after this many
// back-to-back failures (spec.md §4.4 step 4).
const maxConsecutiveErrors = 5

// engineAPI is the subset of engine.Client the poller needs.
type engineAPI interface {
	FetchAndLock(ctx context.Context, workerID, topic string, maxTasks, lockDurationMillis, asyncResponseTimeoutMillis int) ([]engine.ExternalTask, error)
	Failure(ctx context.Context, taskID, workerID, errorMessage, errorDetails string, retries, retryTimeoutMillis int) error
}

// Config tunes a Poller (spec.md §4.4).
type Config struct {
	WorkerID                   string
	MaxTasks                   int
	LockDurationMillis         int
	AsyncResponseTimeoutMillis int
	SleepSeconds               int
	RetryAttempts              int
	Topics                     []string
}

// Poller is the fetch-and-lock worker. One goroutine runs per configured
// topic.
type Poller struct {
	engine   engineAPI
	cache    *metadata.Cache
	table    *routing.Table
	adapter  transport.Adapter
	cfg      Config
	log      *zap.Logger
	exchange string
	metrics  *metrics.Metrics
}

// New builds a Poller. m may be nil, in which case metrics are skipped.
func New(eng engineAPI, cache *metadata.Cache, table *routing.Table, adapter transport.Adapter, tasksExchange string, cfg Config, log *zap.Logger, m *metrics.Metrics) *Poller {
	return &Poller{engine: eng, cache: cache, table: table, adapter: adapter, cfg: cfg, log: log, exchange: tasksExchange, metrics: m}
}

// Run starts one loop per configured topic and blocks until ctx is
// canceled or every topic loop has terminated.
func (p *Poller) Run(ctx context.Context) {
	done := make(chan struct{}, len(p.cfg.Topics))
	for _, topic := range p.cfg.Topics {
		topic := topic
		go func() {
			p.runTopic(ctx, topic)
			done <- struct{}{}
		}()
	}
	for range p.cfg.Topics {
		<-done
	}
}

func (p *Poller) runTopic(ctx context.Context, topic string) {
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tasks, err := p.engine.FetchAndLock(ctx, p.cfg.WorkerID, topic, p.cfg.MaxTasks, p.cfg.LockDurationMillis, p.cfg.AsyncResponseTimeoutMillis)
		if err != nil {
			consecutiveErrors++
			p.log.Error("fetchAndLock failed", zap.String("topic", topic), zap.Int("consecutive_errors", consecutiveErrors), zap.Error(err))
			if consecutiveErrors >= maxConsecutiveErrors {
				p.log.Error("topic loop terminating after consecutive errors", zap.String("topic", topic))
				return
			}
			p.sleep(ctx, p.cfg.SleepSeconds)
			continue
		}
		consecutiveErrors = 0

		if p.metrics != nil && len(tasks) > 0 {
			p.metrics.TasksFetched.WithLabelValues(topic).Add(float64(len(tasks)))
		}

		for _, task := range tasks {
			p.processTask(ctx, topic, task)
		}

		if len(tasks) == 0 {
			p.sleep(ctx, p.cfg.SleepSeconds)
		} else {
			p.sleep(ctx, 1)
		}
	}
}

func (p *Poller) processTask(ctx context.Context, topic string, task engine.ExternalTask) {
	meta, err := p.cache.ActivityMetadata(ctx, task.ProcessDefinitionID, task.ActivityID)
	if err != nil {
		p.log.Warn("metadata lookup failed, publishing without enrichment", zap.String("task_id", task.ID), zap.Error(err))
	}

	system := p.table.SystemFor(topic)
	item := engine.WorkItem{
		TaskID:               task.ID,
		Topic:                topic,
		System:               system,
		ProcessInstanceID:    task.ProcessInstanceID,
		ProcessDefinitionID:  task.ProcessDefinitionID,
		ProcessDefinitionKey: task.ProcessDefinitionKey,
		ActivityID:           task.ActivityID,
		ActivityInstanceID:   task.ActivityInstanceID,
		BusinessKey:          task.BusinessKey,
		TenantID:             task.TenantID,
		WorkerID:             p.cfg.WorkerID,
		Retries:              task.Retries,
		Priority:             task.Priority,
		CreatedTime:          task.CreateTime,
		Timestamp:            time.Now().UnixMilli(),
		Variables:            task.Variables,
		Metadata:             meta,
	}

	body, err := json.Marshal(item)
	if err != nil {
		p.log.Error("marshal work item failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	routingKey := p.table.RoutingKey(topic)
	headers := map[string]string{
		"camunda_topic":       topic,
		"target_system":       system,
		"task_id":             task.ID,
		"process_instance_id": task.ProcessInstanceID,
	}
	if err := p.adapter.Publish(ctx, p.exchange, routingKey, body, headers); err != nil {
		p.log.Error("publish failed, releasing lock with decremented retries", zap.String("task_id", task.ID), zap.Error(err))
		retries := p.decrementedRetries(task.Retries)
		if failErr := p.engine.Failure(ctx, task.ID, p.cfg.WorkerID, "bridge: failed to publish to broker", err.Error(), retries, 0); failErr != nil {
			p.log.Error("engine failure call also failed", zap.String("task_id", task.ID), zap.Error(failErr))
		}
		return
	}

	if p.metrics != nil {
		p.metrics.TasksPublished.WithLabelValues(system, topic).Inc()
	}
	p.log.Debug("published work item", zap.String("task_id", task.ID), zap.String("routing_key", routingKey))
}

// decrementedRetries computes retries=max(0, configuredRetries-1)
// (spec.md §4.4 step 2d). A nil engine-reported retry count falls back to
// the configured retry attempts.
func (p *Poller) decrementedRetries(engineRetries *int) int {
	configured := p.cfg.RetryAttempts
	if engineRetries != nil {
		configured = *engineRetries
	}
	if configured <= 0 {
		return 0
	}
	return configured - 1
}

func (p *Poller) sleep(ctx context.Context, seconds int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(seconds) * time.Second):
	}
}

