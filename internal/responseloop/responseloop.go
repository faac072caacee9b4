// Package responseloop is the Response Loop (spec.md §4.7): it reads
// terminal ResponseMessages and finalizes the corresponding engine tasks.
// Both push mode (Consume, a long-lived broker consumer) and pull mode
// (Poll, a periodic batch drain) share the same finalize logic, adapted
// from the Consumer Framework's single-queue dispatch loop down to one
// dedicated queue with engine side effects instead of a downstream handler.
package responseloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/dedupe"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/engine/vartype"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// maxPullBatch is the per-pass message cap in pull mode (spec.md §4.7).
const maxPullBatch = 10

// outcome is what finalize decided to do with the delivery.
type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDrop
)

// auditPublisher is the narrow surface the Kafka audit producer needs to
// satisfy; best-effort and never blocks finalization.
type auditPublisher interface {
	Publish(ctx context.Context, record engine.OutcomeAuditRecord) error
}

// engineClient is the subset of engine.Client the Response Loop calls.
type engineClient interface {
	Complete(ctx context.Context, taskID, workerID string, variables, localVariables vartype.Map) error
	Failure(ctx context.Context, taskID, workerID, errorMessage, errorDetails string, retries, retryTimeoutMillis int) error
	BPMNError(ctx context.Context, taskID, workerID, errorCode, errorMessage string, variables vartype.Map) error
}

// Loop is the Response Loop. It is safe to run only one of Consume or Poll
// against a given Loop at a time.
type Loop struct {
	engine   engineClient
	adapter  transport.Adapter
	queue    string
	workerID string
	dedupe   dedupe.Store
	audit    auditPublisher
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New builds a Response Loop. store and audit may be nil, in which case
// dedupe consultation and outcome-audit publishing are both skipped
// (spec.md §6: "ambient integrations are optional"). m may be nil, in which
// case metrics are skipped.
func New(eng engineClient, adapter transport.Adapter, responsesQueue, workerID string, store dedupe.Store, audit auditPublisher, log *zap.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		engine:   eng,
		adapter:  adapter,
		queue:    responsesQueue,
		workerID: workerID,
		dedupe:   store,
		audit:    audit,
		log:      log,
		metrics:  m,
	}
}

// Consume runs push mode: a long-lived manual-ack consumer on the
// responses queue (spec.md §4.7, §5: "single consumer").
func (l *Loop) Consume(ctx context.Context) error {
	return l.adapter.Consume(ctx, l.queue, func(ctx context.Context, msg transport.Message) error {
		return l.handleDelivery(ctx, msg)
	})
}

// Poll runs pull mode: drains up to maxPullBatch messages from the
// responses queue per call and finalizes each (spec.md §4.7). Callers
// invoke Poll once per heartbeatInterval tick.
func (l *Loop) Poll(ctx context.Context) (processed int, err error) {
	for i := 0; i < maxPullBatch; i++ {
		msg, ok, getErr := l.adapter.Get(ctx, l.queue)
		if getErr != nil {
			return processed, getErr
		}
		if !ok {
			break
		}
		if err := l.handleDelivery(ctx, msg); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// handleDelivery decodes the message and applies the outcome finalize
// decided: ack, nack-with-requeue, or nack-without-requeue (drop).
func (l *Loop) handleDelivery(ctx context.Context, msg transport.Message) error {
	var resp engine.ResponseMessage
	if err := json.Unmarshal(msg.Body(), &resp); err != nil {
		l.log.Warn("responseloop: malformed response message, dropping", zap.Error(err))
		return msg.Nack(false)
	}

	switch l.finalize(ctx, resp) {
	case outcomeAck:
		return msg.Ack()
	case outcomeDrop:
		return msg.Nack(false)
	default:
		return msg.Nack(true)
	}
}

// finalize performs the required steps for one ResponseMessage
// (spec.md §4.7).
func (l *Loop) finalize(ctx context.Context, resp engine.ResponseMessage) outcome {
	if err := resp.Validate(); err != nil {
		l.log.Warn("responseloop: invalid response message, dropping", zap.Error(err))
		return outcomeDrop
	}

	if resp.WorkerID != l.workerID {
		l.log.Warn("responseloop: response workerId does not match configured identity, skipping",
			zap.String("task_id", resp.TaskID), zap.String("worker_id", resp.WorkerID))
		return outcomeAck
	}

	if l.dedupe != nil {
		seen, err := l.dedupe.SeenRecently(ctx, resp.TaskID)
		if err != nil {
			l.log.Warn("responseloop: dedupe store error, proceeding without it", zap.Error(err))
		} else if seen {
			l.log.Debug("responseloop: task already finalized, short-circuiting", zap.String("task_id", resp.TaskID))
			return outcomeAck
		}
	}

	if err := l.dispatch(ctx, resp); err != nil {
		l.log.Warn("responseloop: engine finalize failed", zap.String("task_id", resp.TaskID), zap.Error(err))
		return outcomeRequeue
	}

	if l.metrics != nil {
		l.metrics.TasksCompleted.WithLabelValues(string(resp.ResponseType)).Inc()
	}

	if l.dedupe != nil {
		if err := l.dedupe.MarkSeen(ctx, resp.TaskID); err != nil {
			l.log.Warn("responseloop: dedupe mark failed", zap.String("task_id", resp.TaskID), zap.Error(err))
		}
	}

	if l.audit != nil {
		record := engine.OutcomeAuditRecord{
			ResponseMessage: resp,
			ProcessedBy:     l.workerID,
			ProcessedAt:     time.Now().UnixMilli(),
		}
		if err := l.audit.Publish(ctx, record); err != nil {
			l.log.Warn("responseloop: outcome audit publish failed", zap.String("task_id", resp.TaskID), zap.Error(err))
		}
	}

	return outcomeAck
}

// dispatch issues the terminal engine call for resp's responseType
// (spec.md §4.7 step 3). An engine 404 is tolerated as success inside the
// engine client itself (idempotent completion).
func (l *Loop) dispatch(ctx context.Context, resp engine.ResponseMessage) error {
	switch resp.ResponseType {
	case engine.ResponseComplete:
		return l.engine.Complete(ctx, resp.TaskID, resp.WorkerID, resp.Variables, resp.LocalVariables)
	case engine.ResponseFailure:
		retries := 0
		if resp.Retries != nil {
			retries = *resp.Retries
		}
		retryTimeout := 0
		if resp.RetryTimeout != nil {
			retryTimeout = *resp.RetryTimeout
		}
		return l.engine.Failure(ctx, resp.TaskID, resp.WorkerID, resp.ErrorMessage, resp.ErrorDetails, retries, retryTimeout)
	case engine.ResponseBPMNError:
		return l.engine.BPMNError(ctx, resp.TaskID, resp.WorkerID, resp.ErrorCode, resp.ErrorMessage, resp.Variables)
	default:
		return fmt.Errorf("responseloop: unknown responseType %q", resp.ResponseType)
	}
}
