package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

const sampleBPMN = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL" xmlns:camunda="http://camunda.org/schema/1.0/bpmn">
  <bpmn:process id="process1">
    <bpmn:serviceTask id="task1" name="Send invoice" camunda:type="external" camunda:topic="billing_invoice">
      <bpmn:extensionElements>
        <camunda:properties>
          <camunda:property name="env" value="prod"/>
        </camunda:properties>
        <camunda:field name="retries" stringValue="3"/>
        <camunda:inputOutput>
          <camunda:inputParameter name="amount">100</camunda:inputParameter>
          <camunda:outputParameter name="status">ok</camunda:outputParameter>
        </camunda:inputOutput>
      </bpmn:extensionElements>
    </bpmn:serviceTask>
  </bpmn:process>
</bpmn:definitions>`

type fakeFetcher struct {
	xmlBody string
	calls   int
}

func (f *fakeFetcher) ProcessDefinitionXML(ctx context.Context, processDefinitionID string) (string, error) {
	f.calls++
	return f.xmlBody, nil
}

func TestCacheMissThenHit(t *testing.T) {
	fetcher := &fakeFetcher{xmlBody: sampleBPMN}
	cache := New(fetcher, 150, 24*time.Hour, nil, nil)

	meta, err := cache.ActivityMetadata(context.Background(), "process1", "task1")
	if err != nil {
		t.Fatalf("ActivityMetadata() error = %v", err)
	}
	if meta.ExtensionProperties["env"] != "prod" {
		t.Errorf("ExtensionProperties[env] = %q, want prod", meta.ExtensionProperties["env"])
	}
	if meta.FieldInjections["retries"] != "3" {
		t.Errorf("FieldInjections[retries] = %q, want 3", meta.FieldInjections["retries"])
	}
	if meta.InputParameters["amount"] != "100" {
		t.Errorf("InputParameters[amount] = %q, want 100", meta.InputParameters["amount"])
	}

	if _, err := cache.ActivityMetadata(context.Background(), "process1", "task1"); err != nil {
		t.Fatalf("second ActivityMetadata() error = %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("engine fetched %d times, want 1 (second call should be a cache hit)", fetcher.calls)
	}

	stats, size := cache.Stats()
	if stats.CacheHits != 1 || stats.CacheMisses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
	if size != 1 {
		t.Errorf("cache size = %d, want 1", size)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	fetcher := &fakeFetcher{xmlBody: sampleBPMN}
	cache := New(fetcher, 150, 10*time.Millisecond, nil, nil)

	if _, err := cache.ActivityMetadata(context.Background(), "process1", "task1"); err != nil {
		t.Fatalf("ActivityMetadata() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := cache.ActivityMetadata(context.Background(), "process1", "task1"); err != nil {
		t.Fatalf("ActivityMetadata() error = %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("engine fetched %d times, want 2 (entry should have expired)", fetcher.calls)
	}
}

func TestCacheEvictsOldest25Percent(t *testing.T) {
	fetcher := &fakeFetcher{xmlBody: sampleBPMN}
	cache := New(fetcher, 4, time.Hour, nil, nil)

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		if _, err := cache.ActivityMetadata(context.Background(), id, "task1"); err != nil {
			t.Fatalf("ActivityMetadata(%s) error = %v", id, err)
		}
	}
	if _, size := cache.Stats(); size != 4 {
		t.Fatalf("cache size = %d, want 4 before triggering eviction", size)
	}

	if _, err := cache.ActivityMetadata(context.Background(), "p5", "task1"); err != nil {
		t.Fatalf("ActivityMetadata(p5) error = %v", err)
	}

	stats, size := cache.Stats()
	if stats.CacheEvictions != 1 {
		t.Errorf("CacheEvictions = %d, want 1 (25%% of 4 entries = 1)", stats.CacheEvictions)
	}
	if size != 4 {
		t.Errorf("cache size after eviction+insert = %d, want 4", size)
	}
}

func TestParseServiceTasksActivityInfo(t *testing.T) {
	activities, err := ParseServiceTasks(sampleBPMN)
	if err != nil {
		t.Fatalf("ParseServiceTasks() error = %v", err)
	}
	task, ok := activities["task1"]
	if !ok {
		t.Fatal("ParseServiceTasks() did not return task1")
	}
	want := engine.ActivityInfo{ID: "task1", Name: "Send invoice", Type: "external", Topic: "billing_invoice"}
	if task.ActivityInfo != want {
		t.Errorf("ActivityInfo = %+v, want %+v", task.ActivityInfo, want)
	}
}
