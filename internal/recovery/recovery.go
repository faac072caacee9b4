// Package recovery is the Recovery Utility (spec.md §4.9): an on-demand
// scanner for external tasks stuck locked in the engine with no trace in
// either the in-flight or sent-mirror queue, which it unlocks and fails
// back to the engine.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/audit"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// defaultMaxAgeMinutes is the default staleness threshold (spec.md §4.9).
const defaultMaxAgeMinutes = 30

// engineClient is the subset of engine.Client the Recovery Utility calls.
type engineClient interface {
	ListLockedTasks(ctx context.Context, workerID string) ([]engine.LockRecord, error)
	Unlock(ctx context.Context, taskID string) error
	Failure(ctx context.Context, taskID, workerID, errorMessage, errorDetails string, retries, retryTimeoutMillis int) error
}

// Options configures one Recovery Utility run (spec.md §4.9 inputs).
type Options struct {
	WorkerID      string // optional; empty scans all locked tasks
	MaxAgeMinutes int    // default 30 when zero
}

// Report is the summary returned by Run (spec.md §4.9, "Reports").
type Report struct {
	Checked  int
	Stuck    int
	Unlocked int
	Failed   int
	Errors   int
}

// Runner holds the dependencies a Recovery Utility run needs.
type Runner struct {
	engine  engineClient
	adapter transport.Adapter
	table   *routing.Table
	audit   audit.Sink
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New builds a Runner. audit may be audit.NoopSink{} when Postgres is not
// configured (spec.md §6). m may be nil, in which case metrics are skipped.
func New(eng engineClient, adapter transport.Adapter, table *routing.Table, auditSink audit.Sink, log *zap.Logger, m *metrics.Metrics) *Runner {
	return &Runner{engine: eng, adapter: adapter, table: table, audit: auditSink, log: log, metrics: m}
}

// taskIDEnvelope reads just the taskId field out of a WorkItem or
// SentMirror body for queue-scan matching.
type taskIDEnvelope struct {
	TaskID          string `json:"taskId"`
	OriginalMessage struct {
		TaskID string `json:"taskId"`
	} `json:"originalMessage"`
}

func (e taskIDEnvelope) resolvedTaskID() string {
	if e.TaskID != "" {
		return e.TaskID
	}
	return e.OriginalMessage.TaskID
}

// Run executes the Recovery Utility algorithm once (spec.md §4.9).
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	maxAge := opts.MaxAgeMinutes
	if maxAge <= 0 {
		maxAge = defaultMaxAgeMinutes
	}

	locked, err := r.engine.ListLockedTasks(ctx, opts.WorkerID)
	if err != nil {
		return Report{}, fmt.Errorf("recovery: list locked tasks: %w", err)
	}

	var report Report
	now := time.Now()
	for _, rec := range locked {
		report.Checked++

		ageMinutes := staleness(now, rec.LockExpirationTime, maxAge)
		if ageMinutes <= float64(maxAge) {
			continue
		}

		system := r.table.SystemFor(rec.Topic)
		queue, _ := r.table.QueueFor(system)
		sentQueue, _ := r.table.SentQueueFor(queue)

		inFlight, scanErr := r.presentInQueues(ctx, rec.TaskID, queue, sentQueue)
		if scanErr != nil {
			r.log.Warn("recovery: broker scan failed, treating task as stuck",
				zap.String("task_id", rec.TaskID), zap.Error(scanErr))
			report.Errors++
		} else if inFlight {
			continue
		}

		report.Stuck++
		if r.metrics != nil {
			r.metrics.RecoveryStuck.Inc()
		}
		r.reclaim(ctx, rec, system, &report)
	}

	return report, nil
}

// staleness computes |now - lockExpirationTime| in minutes. A missing
// lock time is treated as maximally suspicious (spec.md §4.9 step 2:
// "missing or future lock times are treated as suspicious").
func staleness(now time.Time, lockExpiration *time.Time, maxAge int) float64 {
	if lockExpiration == nil {
		return float64(maxAge) + 1
	}
	d := now.Sub(*lockExpiration)
	if d < 0 {
		d = -d
	}
	return d.Minutes()
}

// presentInQueues reports whether a message for taskID is currently
// sitting in either queue, peeking by draining with NACK+requeue
// (spec.md §4.9 step 4).
func (r *Runner) presentInQueues(ctx context.Context, taskID string, queues ...string) (bool, error) {
	for _, queue := range queues {
		if queue == "" {
			continue
		}
		found, err := r.scanQueue(ctx, taskID, queue)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) scanQueue(ctx context.Context, taskID, queue string) (bool, error) {
	info, err := r.adapter.QueueInfo(ctx, queue)
	if err != nil {
		return false, err
	}

	found := false
	for i := 0; i < info.Messages; i++ {
		msg, ok, err := r.adapter.Get(ctx, queue)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		var env taskIDEnvelope
		if json.Unmarshal(msg.Body(), &env) == nil && env.resolvedTaskID() == taskID {
			found = true
		}
		_ = msg.Nack(true)
	}
	return found, nil
}

// reclaim unlocks and fails a stuck task, recording the decision in the
// audit log (spec.md §4.9 step 6).
func (r *Runner) reclaim(ctx context.Context, rec engine.LockRecord, system string, report *Report) {
	const diagnostic = "recovery: task exceeded max lock age with no trace in broker queues"

	if err := r.engine.Unlock(ctx, rec.TaskID); err != nil {
		r.log.Warn("recovery: unlock failed", zap.String("task_id", rec.TaskID), zap.Error(err))
		report.Errors++
		return
	}
	report.Unlocked++
	if r.metrics != nil {
		r.metrics.RecoveryUnlocked.Inc()
	}

	if err := r.engine.Failure(ctx, rec.TaskID, rec.WorkerID, diagnostic, "", 0, 0); err != nil {
		r.log.Warn("recovery: failure call failed", zap.String("task_id", rec.TaskID), zap.Error(err))
		report.Errors++
		return
	}
	report.Failed++

	if r.audit == nil {
		return
	}
	row := audit.RecoveryRow{
		TaskID:     rec.TaskID,
		WorkerID:   rec.WorkerID,
		System:     system,
		Action:     "unlock+failure",
		Reason:     diagnostic,
		ObservedAt: audit.Now(),
	}
	if err := r.audit.RecordRecovery(ctx, row); err != nil {
		r.log.Warn("recovery: audit write failed", zap.String("task_id", rec.TaskID), zap.Error(err))
	}
}
