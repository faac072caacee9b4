package responseloop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/dedupe"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/engine/vartype"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

type fakeEngine struct {
	completeErr error
	failureErr  error
	bpmnErr     error

	completed []string
	failed    []string
	bpmnCalls []string
}

func (f *fakeEngine) Complete(ctx context.Context, taskID, workerID string, variables, localVariables vartype.Map) error {
	f.completed = append(f.completed, taskID)
	return f.completeErr
}

func (f *fakeEngine) Failure(ctx context.Context, taskID, workerID, errorMessage, errorDetails string, retries, retryTimeoutMillis int) error {
	f.failed = append(f.failed, taskID)
	return f.failureErr
}

func (f *fakeEngine) BPMNError(ctx context.Context, taskID, workerID, errorCode, errorMessage string, variables vartype.Map) error {
	f.bpmnCalls = append(f.bpmnCalls, taskID)
	return f.bpmnErr
}

type fakeAudit struct {
	published []engine.OutcomeAuditRecord
}

func (f *fakeAudit) Publish(ctx context.Context, record engine.OutcomeAuditRecord) error {
	f.published = append(f.published, record)
	return nil
}

func mustBody(t *testing.T, resp engine.ResponseMessage) []byte {
	t.Helper()
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

func TestPollCompletesAndRecordsDedupe(t *testing.T) {
	eng := &fakeEngine{}
	audit := &fakeAudit{}
	adapter := transporttest.NewAdapter()
	store := dedupe.NewMemoryStore(0)

	resp := engine.ResponseMessage{TaskID: "t1", ResponseType: engine.ResponseComplete, WorkerID: "worker-1"}
	adapter.Enqueue("responses.queue", &transporttest.Message{B: mustBody(t, resp)})

	loop := New(eng, adapter, "responses.queue", "worker-1", store, audit, zap.NewNop(), nil)
	n, err := loop.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll() processed = %d, want 1", n)
	}
	if len(eng.completed) != 1 || eng.completed[0] != "t1" {
		t.Fatalf("engine.Complete calls = %v, want [t1]", eng.completed)
	}
	if len(audit.published) != 1 {
		t.Fatalf("audit publishes = %d, want 1", len(audit.published))
	}

	seen, err := store.SeenRecently(context.Background(), "t1")
	if err != nil {
		t.Fatalf("SeenRecently() error = %v", err)
	}
	if !seen {
		t.Fatal("SeenRecently(t1) = false after finalize, want true")
	}
}

func TestPollShortCircuitsOnDedupeHit(t *testing.T) {
	eng := &fakeEngine{}
	adapter := transporttest.NewAdapter()
	store := dedupe.NewMemoryStore(0)
	_ = store.MarkSeen(context.Background(), "t1")

	resp := engine.ResponseMessage{TaskID: "t1", ResponseType: engine.ResponseComplete, WorkerID: "worker-1"}
	adapter.Enqueue("responses.queue", &transporttest.Message{B: mustBody(t, resp)})

	loop := New(eng, adapter, "responses.queue", "worker-1", store, nil, zap.NewNop(), nil)
	if _, err := loop.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(eng.completed) != 0 {
		t.Fatalf("engine.Complete calls = %v, want none (dedupe hit should short-circuit)", eng.completed)
	}
}

func TestPollDropsMismatchedWorkerID(t *testing.T) {
	eng := &fakeEngine{}
	adapter := transporttest.NewAdapter()

	resp := engine.ResponseMessage{TaskID: "t1", ResponseType: engine.ResponseComplete, WorkerID: "someone-else"}
	msg := &transporttest.Message{B: mustBody(t, resp)}
	adapter.Enqueue("responses.queue", msg)

	loop := New(eng, adapter, "responses.queue", "worker-1", nil, nil, zap.NewNop(), nil)
	if _, err := loop.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(eng.completed) != 0 {
		t.Fatal("engine.Complete should not be called for a mismatched workerId")
	}
	if !msg.Acked {
		t.Fatal("message should be acked (dropped) on workerId mismatch")
	}
}

func TestPollNacksWithoutRequeueOnMalformedMessage(t *testing.T) {
	eng := &fakeEngine{}
	adapter := transporttest.NewAdapter()

	resp := engine.ResponseMessage{ResponseType: engine.ResponseComplete, WorkerID: "worker-1"} // missing taskId
	msg := &transporttest.Message{B: mustBody(t, resp)}
	adapter.Enqueue("responses.queue", msg)

	loop := New(eng, adapter, "responses.queue", "worker-1", nil, nil, zap.NewNop(), nil)
	if _, err := loop.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(eng.completed) != 0 {
		t.Fatal("engine.Complete should not be called for an invalid response message")
	}
	if !msg.Nacked || msg.Requeued {
		t.Fatalf("message should be nacked without requeue, got nacked=%v requeued=%v", msg.Nacked, msg.Requeued)
	}
}

func TestPollRequeuesOnEngineFailure(t *testing.T) {
	eng := &fakeEngine{completeErr: fmt.Errorf("engine: 500")}
	adapter := transporttest.NewAdapter()

	resp := engine.ResponseMessage{TaskID: "t1", ResponseType: engine.ResponseComplete, WorkerID: "worker-1"}
	msg := &transporttest.Message{B: mustBody(t, resp)}
	adapter.Enqueue("responses.queue", msg)

	loop := New(eng, adapter, "responses.queue", "worker-1", nil, nil, zap.NewNop(), nil)
	if _, err := loop.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !msg.Nacked || !msg.Requeued {
		t.Fatalf("message should be nacked with requeue on engine failure, got nacked=%v requeued=%v", msg.Nacked, msg.Requeued)
	}
}

func TestPollFailureResponseType(t *testing.T) {
	eng := &fakeEngine{}
	adapter := transporttest.NewAdapter()
	retries := 2

	resp := engine.ResponseMessage{
		TaskID: "t1", ResponseType: engine.ResponseFailure, WorkerID: "worker-1",
		ErrorMessage: "boom", Retries: &retries,
	}
	adapter.Enqueue("responses.queue", &transporttest.Message{B: mustBody(t, resp)})

	loop := New(eng, adapter, "responses.queue", "worker-1", nil, nil, zap.NewNop(), nil)
	if _, err := loop.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(eng.failed) != 1 || eng.failed[0] != "t1" {
		t.Fatalf("engine.Failure calls = %v, want [t1]", eng.failed)
	}
}

func TestPollBatchCapsAtTen(t *testing.T) {
	eng := &fakeEngine{}
	adapter := transporttest.NewAdapter()
	for i := 0; i < 15; i++ {
		resp := engine.ResponseMessage{TaskID: fmt.Sprintf("t%d", i), ResponseType: engine.ResponseComplete, WorkerID: "worker-1"}
		adapter.Enqueue("responses.queue", &transporttest.Message{B: mustBody(t, resp)})
	}

	loop := New(eng, adapter, "responses.queue", "worker-1", nil, nil, zap.NewNop(), nil)
	n, err := loop.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != maxPullBatch {
		t.Fatalf("Poll() processed = %d, want %d", n, maxPullBatch)
	}
}
