package engine_test

import (
	"context"
	"testing"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/engine/enginetest"
)

func TestFetchAndLockAndComplete(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()

	srv.LockTask(engine.ExternalTask{ID: "task-1", TopicName: "billing_invoice", ProcessInstanceID: "pi-1"})

	client := engine.NewClient(srv.URL(), "", "", false)

	tasks, err := client.FetchAndLock(context.Background(), "worker-1", "billing_invoice", 10, 60000, 30000)
	if err != nil {
		t.Fatalf("FetchAndLock() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("FetchAndLock() = %+v, want one task-1", tasks)
	}

	if err := client.Complete(context.Background(), "task-1", "worker-1", nil, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	completed := srv.Completed()
	if len(completed) != 1 || completed[0].TaskID != "task-1" {
		t.Fatalf("server recorded %+v, want one completion of task-1", completed)
	}
}

func TestCompleteOnAlreadyClosedTaskIsSuccess(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	client := engine.NewClient(srv.URL(), "", "", false)

	// No task seeded: the fake engine returns 404 for complete on an
	// unknown task id, which must be treated as success (spec.md §7).
	if err := client.Complete(context.Background(), "missing-task", "worker-1", nil, nil); err != nil {
		t.Fatalf("Complete() on an already-closed task returned error = %v, want nil", err)
	}
}

func TestFailureReportsRetries(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.LockTask(engine.ExternalTask{ID: "task-2", TopicName: "billing_invoice"})
	client := engine.NewClient(srv.URL(), "", "", false)

	if err := client.Failure(context.Background(), "task-2", "worker-1", "boom", "stack trace", 2, 5000); err != nil {
		t.Fatalf("Failure() error = %v", err)
	}
	failures := srv.Failed()
	if len(failures) != 1 || failures[0].Retries != 2 {
		t.Fatalf("server recorded %+v, want one failure with retries=2", failures)
	}
}

func TestProcessDefinitionXML(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.SetProcessDefinitionXML("proc-1", "<xml/>")
	client := engine.NewClient(srv.URL(), "", "", false)

	xmlBody, err := client.ProcessDefinitionXML(context.Background(), "proc-1")
	if err != nil {
		t.Fatalf("ProcessDefinitionXML() error = %v", err)
	}
	if xmlBody != "<xml/>" {
		t.Errorf("ProcessDefinitionXML() = %q, want <xml/>", xmlBody)
	}
}

func TestListLockedTasksFiltersByWorker(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.LockTask(engine.ExternalTask{ID: "task-3", TopicName: "billing_invoice", WorkerID: "worker-1"})
	srv.SetLockExpiration("task-3", "2025-10-08T03:50:45.087+0000")

	client := engine.NewClient(srv.URL(), "", "", false)

	records, err := client.ListLockedTasks(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ListLockedTasks() error = %v", err)
	}
	if len(records) != 1 || records[0].TaskID != "task-3" {
		t.Fatalf("ListLockedTasks() = %+v, want one task-3", records)
	}
	if records[0].LockExpirationTime == nil {
		t.Fatal("LockExpirationTime should be parsed, got nil")
	}

	none, err := client.ListLockedTasks(context.Background(), "someone-else")
	if err != nil {
		t.Fatalf("ListLockedTasks() error = %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("ListLockedTasks() for a different worker = %+v, want none", none)
	}
}

func TestProcessDefinitionLifecycle(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.SeedProcessDefinition(engine.ProcessDefinitionSummary{ID: "def-1", Key: "billing", Name: "Billing", Version: 3})

	client := engine.NewClient(srv.URL(), "", "", false)

	defs, err := client.ListProcessDefinitions(context.Background())
	if err != nil {
		t.Fatalf("ListProcessDefinitions() error = %v", err)
	}
	if len(defs) != 1 || defs[0].Key != "billing" {
		t.Fatalf("ListProcessDefinitions() = %+v, want one billing definition", defs)
	}

	def, err := client.ProcessDefinition(context.Background(), "def-1")
	if err != nil {
		t.Fatalf("ProcessDefinition() error = %v", err)
	}
	if def.ID != "def-1" {
		t.Fatalf("ProcessDefinition() = %+v, want def-1", def)
	}

	instance, err := client.StartProcessInstance(context.Background(), "def-1", "order-42", nil)
	if err != nil {
		t.Fatalf("StartProcessInstance() error = %v", err)
	}
	if instance.ProcessDefinitionID != "def-1" || instance.BusinessKey != "order-42" {
		t.Fatalf("StartProcessInstance() = %+v, want def-1/order-42", instance)
	}

	instances, err := client.ListProcessInstances(context.Background(), "def-1")
	if err != nil {
		t.Fatalf("ListProcessInstances() error = %v", err)
	}
	if len(instances) != 1 || instances[0].ID != instance.ID {
		t.Fatalf("ListProcessInstances() = %+v, want one %s", instances, instance.ID)
	}

	if err := client.SuspendProcessInstance(context.Background(), instance.ID, true); err != nil {
		t.Fatalf("SuspendProcessInstance() error = %v", err)
	}
	suspended := srv.Instances()[instance.ID]
	if !suspended.Suspended {
		t.Fatalf("instance %+v, want suspended=true", suspended)
	}

	if err := client.DeleteProcessInstance(context.Background(), instance.ID, "cancelled by operator"); err != nil {
		t.Fatalf("DeleteProcessInstance() error = %v", err)
	}
	if _, ok := srv.Instances()[instance.ID]; ok {
		t.Fatalf("instance %s still present after delete", instance.ID)
	}
}

func TestTaskStatus(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.LockTask(engine.ExternalTask{ID: "task-4", TopicName: "billing_invoice", WorkerID: "worker-1"})

	client := engine.NewClient(srv.URL(), "", "", false)
	rec, err := client.TaskStatus(context.Background(), "task-4")
	if err != nil {
		t.Fatalf("TaskStatus() error = %v", err)
	}
	if rec.TaskID != "task-4" || rec.WorkerID != "worker-1" {
		t.Fatalf("TaskStatus() = %+v, want task-4/worker-1", rec)
	}
}
