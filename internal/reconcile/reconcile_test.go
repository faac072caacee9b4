package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/audit"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

type fakeEngine struct {
	records map[string]*engine.LockRecord
}

func (f *fakeEngine) TaskStatus(ctx context.Context, taskID string) (*engine.LockRecord, error) {
	r, ok := f.records[taskID]
	if !ok {
		return nil, nil
	}
	return r, nil
}

type fakeNotify struct {
	events []engine.FinalizedEvent
}

func (f *fakeNotify) Publish(ctx context.Context, event engine.FinalizedEvent) error {
	f.events = append(f.events, event)
	return nil
}

func mustBody(t *testing.T, mirror engine.SentMirror) []byte {
	t.Helper()
	b, err := json.Marshal(mirror)
	if err != nil {
		t.Fatalf("marshal mirror: %v", err)
	}
	return b
}

func TestRunCycleCompletesStillLockedTask(t *testing.T) {
	adapter := transporttest.NewAdapter()
	eng := &fakeEngine{records: map[string]*engine.LockRecord{
		"t1": {TaskID: "t1", WorkerID: "worker-1"},
	}}
	notify := &fakeNotify{}
	auditSink := audit.NoopSink{}

	mirror := engine.SentMirror{
		OriginalQueue:    "billing.queue",
		OriginalMessage:  engine.WorkItem{TaskID: "t1", System: "billing", Topic: "billing_invoice"},
		ProcessingStatus: engine.ProcessingSuccess,
	}
	msg := &transporttest.Message{B: mustBody(t, mirror)}
	adapter.Enqueue("billing.sent.queue", msg)

	tracker := New(eng, adapter, "billing.queue", "billing.sent.queue", "responses.exchange", "responses.queue", "worker-1", time.Second, notify, auditSink, zap.NewNop(), nil)
	if err := tracker.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	if !msg.Acked {
		t.Fatal("mirror message should be acked after publishing a completion")
	}
	published := adapter.Published()
	if len(published) != 1 {
		t.Fatalf("published messages = %d, want 1", len(published))
	}
	var resp engine.ResponseMessage
	if err := json.Unmarshal(published[0].Body, &resp); err != nil {
		t.Fatalf("unmarshal published response: %v", err)
	}
	if resp.TaskID != "t1" || resp.ResponseType != engine.ResponseComplete {
		t.Fatalf("published response = %+v, want complete for t1", resp)
	}
	if len(notify.events) != 1 || notify.events[0].TaskID != "t1" {
		t.Fatalf("finalized events = %+v, want one for t1", notify.events)
	}
}

func TestRunCycleDropsMirrorWhenTaskNoLongerLockedByWorker(t *testing.T) {
	adapter := transporttest.NewAdapter()
	eng := &fakeEngine{records: map[string]*engine.LockRecord{}} // engine has no record: already closed

	mirror := engine.SentMirror{
		OriginalMessage:  engine.WorkItem{TaskID: "t2", System: "billing"},
		ProcessingStatus: engine.ProcessingSuccess,
	}
	msg := &transporttest.Message{B: mustBody(t, mirror)}
	adapter.Enqueue("billing.sent.queue", msg)

	tracker := New(eng, adapter, "billing.queue", "billing.sent.queue", "responses.exchange", "responses.queue", "worker-1", time.Second, nil, nil, zap.NewNop(), nil)
	if err := tracker.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	if !msg.Acked {
		t.Fatal("mirror message should be acked when the engine no longer shows the task locked")
	}
	if len(adapter.Published()) != 0 {
		t.Fatal("no response should be published when the Response Loop already closed the task")
	}
}

func TestRunCycleIgnoresNonTerminalMirrors(t *testing.T) {
	adapter := transporttest.NewAdapter()
	eng := &fakeEngine{records: map[string]*engine.LockRecord{"t3": {TaskID: "t3", WorkerID: "worker-1"}}}

	mirror := engine.SentMirror{
		OriginalMessage:  engine.WorkItem{TaskID: "t3", System: "billing"},
		ProcessingStatus: "pending",
	}
	msg := &transporttest.Message{B: mustBody(t, mirror)}
	adapter.Enqueue("billing.sent.queue", msg)

	tracker := New(eng, adapter, "billing.queue", "billing.sent.queue", "responses.exchange", "responses.queue", "worker-1", time.Second, nil, nil, zap.NewNop(), nil)
	if err := tracker.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}
	if !msg.Acked {
		t.Fatal("non-terminal mirror should still be acked (not a completion)")
	}
	if len(adapter.Published()) != 0 {
		t.Fatal("non-terminal mirror should never trigger a completion")
	}
}
