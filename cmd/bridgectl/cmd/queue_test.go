package cmd

import (
	"context"
	"testing"

	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

func TestDrainMessagesWithLimitStopsAtLimit(t *testing.T) {
	adapter := transporttest.NewAdapter()
	adapter.Enqueue("billing.queue", &transporttest.Message{B: []byte("one")})
	adapter.Enqueue("billing.queue", &transporttest.Message{B: []byte("two")})
	adapter.Enqueue("billing.queue", &transporttest.Message{B: []byte("three")})

	bodies, err := drainMessages(context.Background(), adapter, "billing.queue", 2)
	if err != nil {
		t.Fatalf("drainMessages() error = %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("drainMessages() returned %d messages, want 2", len(bodies))
	}
}

func TestDrainMessagesZeroLimitBoundsOnQueueDepth(t *testing.T) {
	adapter := transporttest.NewAdapter()
	adapter.Enqueue("billing.queue", &transporttest.Message{B: []byte("one")})
	adapter.Enqueue("billing.queue", &transporttest.Message{B: []byte("two")})

	bodies, err := drainMessages(context.Background(), adapter, "billing.queue", 0)
	if err != nil {
		t.Fatalf("drainMessages() error = %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("drainMessages() returned %d messages, want 2 (queue depth at call time)", len(bodies))
	}
}
