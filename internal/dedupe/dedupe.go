// Package dedupe is the idempotency/dedupe store the Response Loop
// consults before finalizing a task, so a redelivered message does not
// call the engine twice for the same taskId (spec.md §5, "at-least-once
// semantics ... every stage is idempotent on taskId").
package dedupe

import "context"

// Store records that a taskId has been finalized and reports whether it
// was already seen.
type Store interface {
	// SeenRecently reports whether taskID was marked within the store's TTL.
	SeenRecently(ctx context.Context, taskID string) (bool, error)

	// MarkSeen records taskID as finalized.
	MarkSeen(ctx context.Context, taskID string) error
}
