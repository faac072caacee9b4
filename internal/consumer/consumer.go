// Package consumer is the Consumer Framework (spec.md §4.5): one
// manual-ack, prefetch=1 delivery loop per system queue, dispatching into
// the Handler Contract and tracking per-queue throughput, adapted from an
// Echo-style router/middleware pipeline down to a single dispatch path per
// queue.
package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// Dispatcher is what the Consumer Framework calls into for every queue:
// the Handler Contract's ProcessMessage (spec.md §4.6).
type Dispatcher interface {
	ProcessMessage(ctx context.Context, item engine.WorkItem) bool
	OriginalQueueName() string
}

// QueueStats is a snapshot of one queue's consumer counters
// (spec.md §4.5 step 2, §5 "statistics maps").
type QueueStats struct {
	Total            int
	Malformed        int
	Acked            int
	Nacked           int
	LastSeen         time.Time
	AvgProcessMillis float64
}

// Framework runs one consumer per registered queue.
type Framework struct {
	adapter            transport.Adapter
	heartbeatInterval  time.Duration
	tasksExchange      string
	errorRoutingPrefix string
	log                *zap.Logger
	metrics            *metrics.Metrics

	mu    sync.Mutex
	stats map[string]*QueueStats
}

// New builds a Framework bound to adapter. tasksExchange/errorRoutingPrefix
// are the main exchange and the errors.* routing-key prefix the error queue
// is bound under (spec.md §7: "messages that cannot be mapped to a task are
// routed to the error queue for inspection"). m may be nil, in which case
// metrics are skipped.
func New(adapter transport.Adapter, heartbeatInterval time.Duration, tasksExchange, errorRoutingPrefix string, log *zap.Logger, m *metrics.Metrics) *Framework {
	return &Framework{
		adapter:            adapter,
		heartbeatInterval:  heartbeatInterval,
		tasksExchange:      tasksExchange,
		errorRoutingPrefix: errorRoutingPrefix,
		log:                log,
		metrics:            m,
		stats:              make(map[string]*QueueStats),
	}
}

// Run starts one consumer per dispatcher's queue and a monitor goroutine
// that logs throughput every heartbeatInterval. It blocks until ctx is
// canceled.
func (f *Framework) Run(ctx context.Context, dispatchers []Dispatcher) {
	var wg sync.WaitGroup
	for _, d := range dispatchers {
		d := d
		queue := d.OriginalQueueName()
		f.mu.Lock()
		f.stats[queue] = &QueueStats{}
		f.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			f.runQueue(ctx, queue, d)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.monitor(ctx)
	}()

	wg.Wait()
}

// runQueue keeps re-subscribing to queue for as long as ctx is live:
// a dropped connection ends adapter.Consume, and monitor reconnects the
// adapter on its own heartbeat (spec.md §4.5 step 5), so runQueue just
// needs to keep retrying until a reconnected adapter accepts Consume again.
func (f *Framework) runQueue(ctx context.Context, queue string, d Dispatcher) {
	const retryDelay = 2 * time.Second
	for ctx.Err() == nil {
		err := f.adapter.Consume(ctx, queue, func(ctx context.Context, msg transport.Message) error {
			return f.handleDelivery(ctx, queue, d, msg)
		})
		if err != nil && f.log != nil {
			f.log.Error("consumer loop ended, will retry", zap.String("queue", queue), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (f *Framework) handleDelivery(ctx context.Context, queue string, d Dispatcher, msg transport.Message) error {
	start := time.Now()

	var item engine.WorkItem
	if err := json.Unmarshal(msg.Body(), &item); err != nil {
		f.recordMalformed(queue)
		f.routeToErrorQueue(ctx, queue, msg.Body(), err)
		if f.metrics != nil {
			f.metrics.QueueNacked.WithLabelValues(queue, "false").Inc()
		}
		return msg.Nack(false)
	}

	f.recordSeen(queue)

	ok := d.ProcessMessage(ctx, item)
	f.recordProcessed(queue, time.Since(start), ok)

	if ok {
		return msg.Ack()
	}
	if f.metrics != nil {
		f.metrics.QueueNacked.WithLabelValues(queue, "true").Inc()
	}
	return msg.Nack(true)
}

// routeToErrorQueue publishes a delivery the Consumer Framework could not
// map to a WorkItem onto the error queue for inspection (spec.md §7),
// best-effort: a failure here never blocks the nack the caller already
// decided on.
func (f *Framework) routeToErrorQueue(ctx context.Context, queue string, body []byte, cause error) {
	if f.tasksExchange == "" {
		return
	}
	routingKey := f.errorRoutingPrefix + "." + queue
	headers := map[string]string{"source_queue": queue, "error": cause.Error()}
	if err := f.adapter.Publish(ctx, f.tasksExchange, routingKey, body, headers); err != nil && f.log != nil {
		f.log.Warn("consumer: error-queue publish failed", zap.String("queue", queue), zap.Error(err))
	}
}

func (f *Framework) recordMalformed(queue string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats[queue]
	s.Total++
	s.Malformed++
	s.Nacked++
	s.LastSeen = time.Now()
}

func (f *Framework) recordSeen(queue string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats[queue]
	s.Total++
	s.LastSeen = time.Now()
}

func (f *Framework) recordProcessed(queue string, elapsed time.Duration, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats[queue]
	if ok {
		s.Acked++
	} else {
		s.Nacked++
	}
	n := float64(s.Acked + s.Nacked)
	ms := float64(elapsed.Milliseconds())
	if n <= 1 {
		s.AvgProcessMillis = ms
	} else {
		s.AvgProcessMillis += (ms - s.AvgProcessMillis) / n
	}
}

// Stats returns a snapshot of every queue's counters.
func (f *Framework) Stats() map[string]QueueStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]QueueStats, len(f.stats))
	for q, s := range f.stats {
		out[q] = *s
	}
	return out
}

// monitor logs throughput every heartbeatInterval and, per spec.md §4.5
// step 5, checks adapter.IsConnected; on a dropped connection it reconnects
// with exponential backoff (capped at maxReconnectBackoff), re-declaring the
// full topology via adapter.Connect.
func (f *Framework) monitor(ctx context.Context) {
	if f.heartbeatInterval <= 0 {
		<-ctx.Done()
		return
	}
	const maxReconnectBackoff = 30 * time.Second

	ticker := time.NewTicker(f.heartbeatInterval)
	defer ticker.Stop()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.log != nil {
				for queue, s := range f.Stats() {
					f.log.Info("queue throughput", zap.String("queue", queue), zap.Int("total", s.Total), zap.Int("acked", s.Acked), zap.Int("nacked", s.Nacked), zap.Float64("avg_ms", s.AvgProcessMillis))
				}
			}

			if f.adapter.IsConnected() {
				backoff = time.Second
				continue
			}
			if f.log != nil {
				f.log.Warn("consumer: broker disconnected, reconnecting")
			}
			if err := f.adapter.Connect(ctx); err != nil {
				if f.log != nil {
					f.log.Error("consumer: reconnect failed", zap.Error(err), zap.Duration("next_attempt", backoff))
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > maxReconnectBackoff {
					backoff = maxReconnectBackoff
				}
				continue
			}
			backoff = time.Second
		}
	}
}
