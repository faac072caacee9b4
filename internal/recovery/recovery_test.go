package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/audit"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

type fakeEngine struct {
	locked     []engine.LockRecord
	unlocked   []string
	failed     []string
	unlockErr  error
	failureErr error
}

func (f *fakeEngine) ListLockedTasks(ctx context.Context, workerID string) ([]engine.LockRecord, error) {
	return f.locked, nil
}

func (f *fakeEngine) Unlock(ctx context.Context, taskID string) error {
	f.unlocked = append(f.unlocked, taskID)
	return f.unlockErr
}

func (f *fakeEngine) Failure(ctx context.Context, taskID, workerID, errorMessage, errorDetails string, retries, retryTimeoutMillis int) error {
	f.failed = append(f.failed, taskID)
	return f.failureErr
}

func testTable() *routing.Table {
	return routing.New(
		map[string]string{"billing_invoice": "billing"},
		map[string]string{"billing": "billing.queue"},
		map[string][]string{"billing.queue": {"billing.*"}},
		map[string]string{"billing.queue": "billing.sent.queue"},
		"default.queue", "", "",
	)
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestRunSkipsFreshLocks(t *testing.T) {
	eng := &fakeEngine{locked: []engine.LockRecord{
		{TaskID: "t1", WorkerID: "worker-1", Topic: "billing_invoice", LockExpirationTime: ptrTime(time.Now())},
	}}
	adapter := transporttest.NewAdapter()
	runner := New(eng, adapter, testTable(), audit.NoopSink{}, zap.NewNop(), nil)

	report, err := runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Checked != 1 || report.Stuck != 0 {
		t.Fatalf("report = %+v, want checked=1 stuck=0", report)
	}
	if len(eng.unlocked) != 0 {
		t.Fatal("fresh lock should not be unlocked")
	}
}

func TestRunReclaimsStuckTaskAbsentFromQueues(t *testing.T) {
	old := time.Now().Add(-45 * time.Minute)
	eng := &fakeEngine{locked: []engine.LockRecord{
		{TaskID: "t5", WorkerID: "worker-1", Topic: "billing_invoice", LockExpirationTime: &old},
	}}
	adapter := transporttest.NewAdapter()
	runner := New(eng, adapter, testTable(), audit.NoopSink{}, zap.NewNop(), nil)

	report, err := runner.Run(context.Background(), Options{MaxAgeMinutes: 30})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Stuck != 1 || report.Unlocked != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want stuck=1 unlocked=1 failed=1", report)
	}
	if len(eng.unlocked) != 1 || eng.unlocked[0] != "t5" {
		t.Fatalf("unlocked = %v, want [t5]", eng.unlocked)
	}
	if len(eng.failed) != 1 || eng.failed[0] != "t5" {
		t.Fatalf("failed = %v, want [t5]", eng.failed)
	}
}

func TestRunSkipsStaleTaskStillInQueue(t *testing.T) {
	old := time.Now().Add(-45 * time.Minute)
	eng := &fakeEngine{locked: []engine.LockRecord{
		{TaskID: "t6", WorkerID: "worker-1", Topic: "billing_invoice", LockExpirationTime: &old},
	}}
	adapter := transporttest.NewAdapter()
	adapter.Enqueue("billing.queue", &transporttest.Message{B: []byte(fmt.Sprintf(`{"taskId":%q}`, "t6"))})
	runner := New(eng, adapter, testTable(), audit.NoopSink{}, zap.NewNop(), nil)

	report, err := runner.Run(context.Background(), Options{MaxAgeMinutes: 30})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Stuck != 0 {
		t.Fatalf("report = %+v, want stuck=0 (task still in-flight)", report)
	}
	if len(eng.unlocked) != 0 {
		t.Fatal("in-flight task should not be unlocked")
	}
}

func TestRunTreatsMissingLockTimeAsStale(t *testing.T) {
	eng := &fakeEngine{locked: []engine.LockRecord{
		{TaskID: "t7", WorkerID: "worker-1", Topic: "billing_invoice", LockExpirationTime: nil},
	}}
	adapter := transporttest.NewAdapter()
	runner := New(eng, adapter, testTable(), audit.NoopSink{}, zap.NewNop(), nil)

	report, err := runner.Run(context.Background(), Options{MaxAgeMinutes: 30})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Stuck != 1 {
		t.Fatalf("report = %+v, want stuck=1 for a missing lock time", report)
	}
}
