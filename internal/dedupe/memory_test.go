package dedupe

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreMarkAndSee(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()

	seen, err := store.SeenRecently(ctx, "task-1")
	if err != nil {
		t.Fatalf("SeenRecently() error = %v", err)
	}
	if seen {
		t.Fatal("SeenRecently() = true before MarkSeen, want false")
	}

	if err := store.MarkSeen(ctx, "task-1"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	seen, _ = store.SeenRecently(ctx, "task-1")
	if !seen {
		t.Fatal("SeenRecently() = false after MarkSeen, want true")
	}

	time.Sleep(100 * time.Millisecond)
	seen, _ = store.SeenRecently(ctx, "task-1")
	if seen {
		t.Fatal("SeenRecently() = true after TTL expiry, want false")
	}
}
