package poller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/engine/enginetest"
	"github.com/vlikhobabin/camunda-bridge/internal/metadata"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

func TestPollerPublishesWorkItem(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.LockTask(engine.ExternalTask{
		ID:                  "task-1",
		TopicName:           "billing_invoice",
		ProcessInstanceID:   "pi-1",
		ProcessDefinitionID: "proc-1",
		ActivityID:          "task1",
	})

	client := engine.NewClient(srv.URL(), "", "", false)
	cache := metadata.New(client, 150, time.Hour, zap.NewNop(), nil)
	table := routing.New(map[string]string{"billing_invoice": "billing"}, nil, nil, nil, "", "", "")
	adapter := transporttest.NewAdapter()

	cfg := Config{
		WorkerID:     "worker-1",
		MaxTasks:     10,
		SleepSeconds: 0,
		Topics:       []string{"billing_invoice"},
	}
	p := New(client, cache, table, adapter, "tasks.exchange", cfg, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	published := adapter.Published()
	if len(published) == 0 {
		t.Fatal("Publish was never called")
	}
	if published[0].RoutingKey != "billing.billing_invoice" {
		t.Errorf("routing key = %q, want billing.billing_invoice", published[0].RoutingKey)
	}
	var item engine.WorkItem
	if err := json.Unmarshal(published[0].Body, &item); err != nil {
		t.Fatalf("unmarshal published body: %v", err)
	}
	if item.TaskID != "task-1" || item.System != "billing" {
		t.Errorf("WorkItem = %+v, want TaskID=task-1 System=billing", item)
	}
}

func TestPollerFailsTaskOnPublishError(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	retries := 3
	srv.LockTask(engine.ExternalTask{ID: "task-2", TopicName: "billing_invoice", Retries: &retries})

	client := engine.NewClient(srv.URL(), "", "", false)
	cache := metadata.New(client, 150, time.Hour, zap.NewNop(), nil)
	table := routing.New(nil, nil, nil, nil, "", "", "")
	adapter := transporttest.NewAdapter()
	adapter.PublishErr = errPublishBoom

	cfg := Config{WorkerID: "worker-1", MaxTasks: 10, SleepSeconds: 0, Topics: []string{"billing_invoice"}}
	p := New(client, cache, table, adapter, "tasks.exchange", cfg, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	failures := srv.Failed()
	if len(failures) == 0 {
		t.Fatal("engine.Failure was never called after a publish error")
	}
	if failures[0].Retries != 2 {
		t.Errorf("reported retries = %d, want 2 (decremented from 3)", failures[0].Retries)
	}
}

var errPublishBoom = &publishError{}

type publishError struct{}

func (*publishError) Error() string { return "simulated broker unavailable" }
