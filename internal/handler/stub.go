package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

// StubHandler is a placeholder DownstreamAction for systems not yet
// implemented: it synthesizes a mock responseData and always succeeds, so
// the wider bridge keeps producing reconciliation traffic for that system
// (spec.md §4.6, "Stub handlers").
type StubHandler struct {
	System string
}

var _ DownstreamAction = (*StubHandler)(nil)

func (s *StubHandler) Process(ctx context.Context, item engine.WorkItem) (any, error) {
	return map[string]any{
		"stub":     true,
		"system":   s.System,
		"taskId":   item.TaskID,
		"acceptedAt": time.Now().UnixMilli(),
		"note":     fmt.Sprintf("synthesized response: no downstream integration wired for %q yet", s.System),
	}, nil
}
