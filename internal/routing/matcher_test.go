package routing

import "testing"

func TestDefaultMatcher(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		// Exact match
		{"camunda.orders_created", "camunda.orders_created", true},
		{"camunda.orders_created", "camunda.orders_updated", false},
		{"camunda", "camunda", true},

		// Single-level wildcard
		{"camunda.*", "camunda.orders_created", true},
		{"camunda.*", "camunda.orders_updated", true},
		{"camunda.*", "camunda.us.orders_created", false},
		{"*.orders_created", "camunda.orders_created", true},
		{"*.orders_created", "billing.orders_created", true},

		// Multi-level wildcard
		{"errors.#", "errors.camunda_tasks", true},
		{"errors.#", "errors.camunda_tasks.retry", true},
		{"errors.#", "errors.us.east.camunda_tasks", true},
		{"#", "anything", true},
		{"#", "a.b.c", true},

		// Combined
		{"camunda.*.#", "camunda.us.orders_created", true},
		{"camunda.*.#", "camunda.us.east.orders_created", true},

		// Edge cases
		{"camunda.orders_created", "camunda", false},
		{"camunda", "camunda.orders_created", false},
		{"camunda.*", "camunda", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"→"+tt.key, func(t *testing.T) {
			if got := DefaultMatcher.Match(tt.pattern, tt.key); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestTableResolveQueue(t *testing.T) {
	table := New(
		map[string]string{"orders_created": "billing"},
		map[string]string{"billing": "billing.queue"},
		map[string][]string{"billing.queue": {"billing.*"}},
		nil,
		"default.queue", "", "",
	)

	if got := table.ResolveQueue("orders_created"); got != "billing.queue" {
		t.Errorf("ResolveQueue(orders_created) = %q, want billing.queue", got)
	}
	if got := table.ResolveQueue("unregistered_topic"); got != "default.queue" {
		t.Errorf("ResolveQueue(unregistered_topic) = %q, want default.queue (unknown topics fall to the default queue)", got)
	}
}

func TestTableValidate(t *testing.T) {
	bindings := map[string][]string{}
	table := New(
		nil,
		map[string]string{"billing": "billing.queue"},
		bindings,
		nil,
		"", "", "",
	)
	if err := table.Validate(); err == nil {
		t.Error("Validate() = nil, want error for a system queue with no bindings")
	}

	bindings["billing.queue"] = []string{"billing.*"}
	if err := table.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil once the queue is bound", err)
	}
}
