package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// mirrorBackoff is the fixed exponential backoff schedule for sent-mirror
// publishes (spec.md §4.6 step 3: "up to 5 times ... 1,2,4,8,16 seconds").
var mirrorBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Publisher emits SentMirror messages to the sent exchange, retrying with
// exponential backoff before giving up.
type Publisher struct {
	adapter      transport.Adapter
	table        *routing.Table
	sentExchange string
	backoff      []time.Duration
}

// NewPublisher builds a Publisher bound to the sent exchange, using the
// spec's fixed 1/2/4/8/16s backoff schedule.
func NewPublisher(adapter transport.Adapter, table *routing.Table, sentExchange string) *Publisher {
	return &Publisher{adapter: adapter, table: table, sentExchange: sentExchange, backoff: mirrorBackoff}
}

// PublishMirror publishes mirror to the sent-mirror queue for sourceQueue,
// retrying up to len(mirrorBackoff) additional times with exponential
// backoff on failure.
func (p *Publisher) PublishMirror(ctx context.Context, sourceQueue string, mirror engine.SentMirror) error {
	sentQueue, ok := p.table.SentQueueFor(sourceQueue)
	if !ok {
		return fmt.Errorf("handler: no sent-mirror queue configured for %q", sourceQueue)
	}

	body, err := json.Marshal(mirror)
	if err != nil {
		return fmt.Errorf("handler: marshal sent mirror: %w", err)
	}
	headers := map[string]string{"taskId": mirror.OriginalMessage.TaskID}

	var lastErr error
	attempts := len(p.backoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff[attempt-1]):
			}
		}
		if err := p.adapter.Publish(ctx, p.sentExchange, sentQueue, body, headers); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("handler: publish sent mirror to %q after %d attempts: %w", sentQueue, attempts, lastErr)
}
