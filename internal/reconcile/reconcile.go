// Package reconcile is the Reconciliation Tracker (spec.md §4.8): one
// long-lived loop per sent-mirror queue that catches tasks whose primary
// response-queue completion was lost, closing them out-of-band.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/audit"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/engine/vartype"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// disconnectBackoff is how long a tracker waits after a broker error before
// resuming (spec.md §4.8 step 3).
const disconnectBackoff = 30 * time.Second

// engineClient is the subset of engine.Client the tracker calls.
type engineClient interface {
	TaskStatus(ctx context.Context, taskID string) (*engine.LockRecord, error)
}

// finalizedPublisher is the narrow surface the NATS notifier needs to
// satisfy; best-effort and never blocks reconciliation.
type finalizedPublisher interface {
	Publish(ctx context.Context, event engine.FinalizedEvent) error
}

// Tracker watches one sent-mirror queue.
type Tracker struct {
	engine            engineClient
	adapter           transport.Adapter
	sourceQueue       string // system queue this mirror queue belongs to, for logging
	mirrorQueue       string
	responsesExchange string
	responsesQueue    string
	workerID          string
	heartbeat         time.Duration
	notify            finalizedPublisher
	auditSink         audit.Sink
	log               *zap.Logger
	metrics           *metrics.Metrics
}

// New builds a Tracker for one sent-mirror queue. notify and auditSink may
// be nil (spec.md §6: ambient integrations are optional); use audit.NoopSink{}
// when no Postgres DSN is configured. m may be nil, in which case metrics
// are skipped.
func New(eng engineClient, adapter transport.Adapter, sourceQueue, mirrorQueue, responsesExchange, responsesQueue, workerID string, heartbeat time.Duration, notify finalizedPublisher, auditSink audit.Sink, log *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		engine:            eng,
		adapter:           adapter,
		sourceQueue:       sourceQueue,
		mirrorQueue:       mirrorQueue,
		responsesExchange: responsesExchange,
		responsesQueue:    responsesQueue,
		workerID:          workerID,
		heartbeat:         heartbeat,
		notify:            notify,
		auditSink:         auditSink,
		log:               log,
		metrics:           m,
	}
}

// Run ticks at the tracker's heartbeat cadence, draining the mirror queue
// each cycle, until ctx is canceled (spec.md §4.8: "its own long-lived
// loop at the same heartbeat cadence").
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.runCycle(ctx); err != nil {
				t.log.Warn("reconcile: cycle failed, backing off",
					zap.String("queue", t.mirrorQueue), zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(disconnectBackoff):
				}
			}
		}
	}
}

// runCycle drains every currently available message on the mirror queue
// (spec.md §4.8 step 1: "peek (or drain with requeue-on-no-op)").
func (t *Tracker) runCycle(ctx context.Context) error {
	for {
		msg, ok, err := t.adapter.Get(ctx, t.mirrorQueue)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		t.handleMirror(ctx, msg)
	}
}

func (t *Tracker) handleMirror(ctx context.Context, msg transport.Message) {
	var mirror engine.SentMirror
	if err := json.Unmarshal(msg.Body(), &mirror); err != nil {
		t.log.Warn("reconcile: malformed sent-mirror message, dropping", zap.Error(err))
		_ = msg.Nack(false)
		return
	}

	if !mirror.IsTerminalSuccess() {
		_ = msg.Ack()
		return
	}

	taskID := mirror.OriginalMessage.TaskID
	record, err := t.engine.TaskStatus(ctx, taskID)
	if err != nil || record == nil || record.WorkerID != t.workerID {
		// Not locked by us anymore (completed, reassigned, or engine says
		// not found): the Response Loop already closed it, or another
		// worker owns it now. Either way this tracker has nothing to do.
		_ = msg.Ack()
		return
	}

	if err := t.completeViaResponseQueue(ctx, mirror); err != nil {
		t.log.Warn("reconcile: publish completion failed, requeueing",
			zap.String("task_id", taskID), zap.Error(err))
		_ = msg.Nack(true)
		return
	}

	if t.metrics != nil {
		t.metrics.TasksReconciled.WithLabelValues(mirror.OriginalMessage.System).Inc()
	}
	t.notifyFinalized(ctx, taskID, mirror)
	t.recordAudit(ctx, taskID, mirror)
	_ = msg.Ack()
}

// completeViaResponseQueue reconstructs a completion for a mirror the
// Response Loop never saw. It carries at minimum the handler's terminal
// status, plus the topic/system it belongs to, so the reconstructed
// completion is not a bare ack (spec.md §9, grounded on
// camunda_worker.py:362-366 which reconstructs processing_status/
// processed_at/topic/system the same way).
func (t *Tracker) completeViaResponseQueue(ctx context.Context, mirror engine.SentMirror) error {
	resp := engine.ResponseMessage{
		TaskID:       mirror.OriginalMessage.TaskID,
		ResponseType: engine.ResponseComplete,
		WorkerID:     t.workerID,
		Variables: vartype.EncodeMap(map[string]any{
			"processingStatus": string(mirror.ProcessingStatus),
			"processedAt":      mirror.ProcessedAt,
			"topic":            mirror.OriginalMessage.Topic,
			"system":           mirror.OriginalMessage.System,
		}),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return t.adapter.Publish(ctx, t.responsesExchange, t.responsesQueue, body, map[string]string{"taskId": resp.TaskID})
}

func (t *Tracker) notifyFinalized(ctx context.Context, taskID string, mirror engine.SentMirror) {
	if t.notify == nil {
		return
	}
	event := engine.FinalizedEvent{
		TaskID:      taskID,
		System:      mirror.OriginalMessage.System,
		Topic:       mirror.OriginalMessage.Topic,
		Outcome:     string(engine.ResponseComplete),
		FinalizedAt: time.Now().UnixMilli(),
	}
	if err := t.notify.Publish(ctx, event); err != nil {
		t.log.Warn("reconcile: finalized-event publish failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (t *Tracker) recordAudit(ctx context.Context, taskID string, mirror engine.SentMirror) {
	if t.auditSink == nil {
		return
	}
	row := audit.ReconciliationRow{
		TaskID:     taskID,
		WorkerID:   t.workerID,
		System:     mirror.OriginalMessage.System,
		Action:     "complete",
		Reason:     "sent-mirror observed, task still locked, response-queue completion not seen",
		ObservedAt: audit.Now(),
	}
	if err := t.auditSink.RecordReconciliation(ctx, row); err != nil {
		t.log.Warn("reconcile: audit write failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
