package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

type fakeDispatcher struct {
	queue   string
	ok      bool
	handled []engine.WorkItem
}

func (d *fakeDispatcher) OriginalQueueName() string { return d.queue }
func (d *fakeDispatcher) ProcessMessage(ctx context.Context, item engine.WorkItem) bool {
	d.handled = append(d.handled, item)
	return d.ok
}

func TestFrameworkAcksOnSuccess(t *testing.T) {
	adapter := transporttest.NewAdapter()
	d := &fakeDispatcher{queue: "billing.queue", ok: true}
	f := New(adapter, 0, "tasks.exchange", "errors", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx, []Dispatcher{d})
	time.Sleep(10 * time.Millisecond) // let Consume register the handler

	body, _ := json.Marshal(engine.WorkItem{TaskID: "task-1"})
	msg := &transporttest.Message{B: body}
	if err := adapter.Deliver(ctx, "billing.queue", msg); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	cancel()

	if !msg.Acked {
		t.Error("message was not acked after a successful ProcessMessage")
	}
	if len(d.handled) != 1 || d.handled[0].TaskID != "task-1" {
		t.Errorf("dispatcher handled %+v, want one WorkItem task-1", d.handled)
	}
}

func TestFrameworkNacksOnFailureWithRequeue(t *testing.T) {
	adapter := transporttest.NewAdapter()
	d := &fakeDispatcher{queue: "billing.queue", ok: false}
	f := New(adapter, 0, "tasks.exchange", "errors", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx, []Dispatcher{d})
	time.Sleep(10 * time.Millisecond)

	body, _ := json.Marshal(engine.WorkItem{TaskID: "task-2"})
	msg := &transporttest.Message{B: body}
	_ = adapter.Deliver(ctx, "billing.queue", msg)
	cancel()

	if !msg.Nacked || !msg.Requeued {
		t.Error("a failed ProcessMessage must nack with requeue")
	}
}

func TestFrameworkNacksMalformedWithoutRequeue(t *testing.T) {
	adapter := transporttest.NewAdapter()
	d := &fakeDispatcher{queue: "billing.queue", ok: true}
	f := New(adapter, 0, "tasks.exchange", "errors", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx, []Dispatcher{d})
	time.Sleep(10 * time.Millisecond)

	msg := &transporttest.Message{B: []byte("not json")}
	_ = adapter.Deliver(ctx, "billing.queue", msg)
	cancel()

	if !msg.Nacked || msg.Requeued {
		t.Error("a malformed body must nack without requeue")
	}
	stats := f.Stats()["billing.queue"]
	if stats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", stats.Malformed)
	}

	published := adapter.Published()
	if len(published) != 1 {
		t.Fatalf("Published() = %+v, want one error-queue publish", published)
	}
	if published[0].Exchange != "tasks.exchange" || published[0].RoutingKey != "errors.billing.queue" {
		t.Errorf("Published()[0] = %+v, want exchange=tasks.exchange routingKey=errors.billing.queue", published[0])
	}
}

func TestMonitorReconnectsOnDroppedConnection(t *testing.T) {
	adapter := transporttest.NewAdapter()
	d := &fakeDispatcher{queue: "billing.queue", ok: true}
	f := New(adapter, 5*time.Millisecond, "tasks.exchange", "errors", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, []Dispatcher{d})

	adapter.Disconnect()
	deadline := time.After(500 * time.Millisecond)
	for !adapter.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("monitor never reconnected a dropped adapter")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
