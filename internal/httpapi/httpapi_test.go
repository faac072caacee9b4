package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/transporttest"
)

func TestHealthzOKWithNoFailingChecks(t *testing.T) {
	s := New(map[string]Check{
		"engine": func(ctx context.Context) error { return nil },
	}, transporttest.NewAdapter(), routing.New(nil, nil, nil, nil, "", "", ""))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthzUnavailableWhenCheckFails(t *testing.T) {
	s := New(map[string]Check{
		"broker": func(ctx context.Context) error { return fmt.Errorf("boom") },
	}, transporttest.NewAdapter(), routing.New(nil, nil, nil, nil, "", "", ""))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestQueuesListsBindingsAndMirrors(t *testing.T) {
	table := routing.New(
		nil,
		map[string]string{"billing": "billing.queue"},
		map[string][]string{"billing.queue": {"billing.*"}},
		map[string]string{"billing.queue": "billing.sent.queue"},
		"default.queue", "errors.queue", "",
	)
	s := New(nil, transporttest.NewAdapter(), table)

	req := httptest.NewRequest(http.MethodGet, "/queues", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"billing.queue", "billing.sent.queue", "default.queue", "errors.queue"} {
		if !strings.Contains(body, want) {
			t.Fatalf("response %q missing queue %q", body, want)
		}
	}
}
