// Package handler is the Handler Contract (spec.md §4.6): a downstream
// action plus the base behavior every concrete handler shares — sent-mirror
// publishing with best-effort retries, attempt counters, and timing stats.
package handler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

// DownstreamAction is what a concrete per-system handler implements: the
// actual call into the downstream system (a ticket tracker, an ERP, a
// notification service). responseData is opaque to the framework and
// carried verbatim into the SentMirror.
type DownstreamAction interface {
	Process(ctx context.Context, item engine.WorkItem) (responseData any, err error)
}

// Stats is a snapshot of a handler's counters.
type Stats struct {
	Attempts         int
	Successes        int
	Failures         int
	MirrorFailures   int
	AvgProcessMillis float64
}

// Handler wraps a DownstreamAction with the base behavior every concrete
// handler must honor (spec.md §4.6): attempt counting, sent-mirror
// publishing via the Publisher, and rolling average timing.
type Handler struct {
	action        DownstreamAction
	originalQueue string
	publisher     *Publisher
	log           *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New wraps action as a Handler bound to originalQueue (used to resolve the
// sent-mirror queue).
func New(action DownstreamAction, originalQueue string, publisher *Publisher, log *zap.Logger) *Handler {
	return &Handler{action: action, originalQueue: originalQueue, publisher: publisher, log: log}
}

// OriginalQueueName returns the source queue this handler consumes from.
func (h *Handler) OriginalQueueName() string { return h.originalQueue }

// Stats returns a snapshot of this handler's counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Cleanup releases any resources the handler holds. The base handler holds
// none; concrete actions that do (connections, file handles) should close
// them here via an optional io.Closer-style embed.
func (h *Handler) Cleanup() {}

// ProcessMessage runs the downstream action and mirrors a successful
// outcome to the sent queue (spec.md §4.6 steps 1-4). It returns true once
// the message has been acted on and mirror emission has been attempted,
// even if the mirror publish itself ultimately failed.
func (h *Handler) ProcessMessage(ctx context.Context, item engine.WorkItem) bool {
	start := time.Now()
	h.mu.Lock()
	h.stats.Attempts++
	h.mu.Unlock()

	responseData, err := h.action.Process(ctx, item)
	elapsed := time.Since(start)

	h.mu.Lock()
	h.updateAvgLocked(elapsed)
	h.mu.Unlock()

	if err != nil {
		h.mu.Lock()
		h.stats.Failures++
		h.mu.Unlock()
		if h.log != nil {
			h.log.Error("downstream action failed", zap.String("task_id", item.TaskID), zap.String("queue", h.originalQueue), zap.Error(err))
		}
		return false
	}

	h.mu.Lock()
	h.stats.Successes++
	h.mu.Unlock()

	mirror := engine.SentMirror{
		Timestamp:        item.Timestamp,
		ProcessedAt:      time.Now().UnixMilli(),
		OriginalQueue:    h.originalQueue,
		OriginalMessage:  item,
		ResponseData:     responseData,
		ProcessingStatus: engine.ProcessingSuccess,
	}

	if err := h.publisher.PublishMirror(ctx, h.originalQueue, mirror); err != nil {
		h.mu.Lock()
		h.stats.MirrorFailures++
		h.mu.Unlock()
		if h.log != nil {
			h.log.Warn("sent-mirror publish failed after retries, engine completion may still arrive via the response loop", zap.String("task_id", item.TaskID), zap.Error(err))
		}
	}

	// The downstream action succeeded; mirror emission is best-effort
	// (spec.md §4.6 step 4).
	return true
}

func (h *Handler) updateAvgLocked(elapsed time.Duration) {
	n := float64(h.stats.Attempts)
	if n <= 1 {
		h.stats.AvgProcessMillis = float64(elapsed.Milliseconds())
		return
	}
	h.stats.AvgProcessMillis = h.stats.AvgProcessMillis + (float64(elapsed.Milliseconds())-h.stats.AvgProcessMillis)/n
}
