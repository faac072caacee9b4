package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

func tableForTest() *routing.Table {
	return routing.New(nil, nil, nil, map[string]string{"billing.queue": "billing.sent.queue"}, "", "", "")
}

func TestProcessMessageMirrorsOnSuccess(t *testing.T) {
	adapter := transporttest.NewAdapter()
	publisher := NewPublisher(adapter, tableForTest(), "sent.exchange")
	h := New(&StubHandler{System: "billing"}, "billing.queue", publisher, nil)

	ok := h.ProcessMessage(context.Background(), engine.WorkItem{TaskID: "task-1", Topic: "billing_invoice"})
	if !ok {
		t.Fatal("ProcessMessage() = false, want true")
	}

	published := adapter.Published()
	if len(published) != 1 || published[0].RoutingKey != "billing.sent.queue" {
		t.Fatalf("Published = %+v, want one publish to billing.sent.queue", published)
	}

	stats := h.Stats()
	if stats.Successes != 1 || stats.MirrorFailures != 0 {
		t.Errorf("Stats = %+v, want 1 success and 0 mirror failures", stats)
	}
}

type failingAction struct{}

func (failingAction) Process(ctx context.Context, item engine.WorkItem) (any, error) {
	return nil, errors.New("downstream unavailable")
}

func TestProcessMessageReturnsFalseOnDownstreamFailure(t *testing.T) {
	adapter := transporttest.NewAdapter()
	publisher := NewPublisher(adapter, tableForTest(), "sent.exchange")
	h := New(failingAction{}, "billing.queue", publisher, nil)

	if ok := h.ProcessMessage(context.Background(), engine.WorkItem{TaskID: "task-2"}); ok {
		t.Fatal("ProcessMessage() = true, want false when the downstream action fails")
	}
	if len(adapter.Published()) != 0 {
		t.Error("a failed downstream action must not publish a sent mirror")
	}
}

func TestProcessMessageTrueEvenWhenMirrorPublishFails(t *testing.T) {
	adapter := transporttest.NewAdapter()
	adapter.PublishErr = errors.New("broker down")
	publisher := NewPublisher(adapter, tableForTest(), "sent.exchange")
	publisher.backoff = []time.Duration{time.Millisecond, time.Millisecond}
	h := New(&StubHandler{System: "billing"}, "billing.queue", publisher, nil)

	ok := h.ProcessMessage(context.Background(), engine.WorkItem{TaskID: "task-3"})
	if !ok {
		t.Fatal("ProcessMessage() = false, want true: a successful downstream action must return true even if mirroring fails (spec §4.6 step 4)")
	}
	if h.Stats().MirrorFailures != 1 {
		t.Errorf("MirrorFailures = %d, want 1", h.Stats().MirrorFailures)
	}
}
