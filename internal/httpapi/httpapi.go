// Package httpapi exposes the bridge's operational surface over HTTP:
// health, Prometheus metrics, and a queue-depth summary, grounded on the
// pack's chi-router health/middleware conventions.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// Check is a named health probe; a non-nil error marks the service unhealthy.
type Check func(ctx context.Context) error

// Server serves /healthz, /metrics, and /queues.
type Server struct {
	router  chi.Router
	checks  map[string]Check
	adapter transport.Adapter
	table   *routing.Table
}

// New builds a Server. checks is run on every /healthz call; adapter and
// table back the /queues summary.
func New(checks map[string]Check, adapter transport.Adapter, table *routing.Table) *Server {
	s := &Server{checks: checks, adapter: adapter, table: table}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/queues", s.handleQueues)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{Status: "healthy", Checks: make(map[string]string, len(s.checks))}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = err.Error()
		} else {
			status.Checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

type queueSummary struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	seen := make(map[string]struct{})
	var names []string
	for _, binding := range s.table.Bindings() {
		if _, ok := seen[binding.Queue]; !ok {
			seen[binding.Queue] = struct{}{}
			names = append(names, binding.Queue)
		}
	}
	for _, sentQueue := range s.table.SentQueueMapping() {
		if _, ok := seen[sentQueue]; !ok {
			seen[sentQueue] = struct{}{}
			names = append(names, sentQueue)
		}
	}
	if dq := s.table.DefaultQueue(); dq != "" {
		names = append(names, dq)
	}
	if eq := s.table.ErrorQueue(); eq != "" {
		names = append(names, eq)
	}

	summaries := make([]queueSummary, 0, len(names))
	for _, name := range names {
		info, err := s.adapter.QueueInfo(ctx, name)
		if err != nil {
			summaries = append(summaries, queueSummary{Name: name, Messages: -1})
			continue
		}
		summaries = append(summaries, queueSummary{Name: info.Name, Messages: info.Messages})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summaries)
}
