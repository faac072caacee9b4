package dedupe

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process dedupe store, the default when no Redis URL
// is configured (spec.md §6: ambient integrations are optional).
type MemoryStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds a MemoryStore with the given TTL and a cleanup
// sweep at twice that interval.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

func (m *MemoryStore) SeenRecently(ctx context.Context, taskID string) (bool, error) {
	_, found := m.cache.Get(taskID)
	return found, nil
}

func (m *MemoryStore) MarkSeen(ctx context.Context, taskID string) error {
	m.cache.Set(taskID, struct{}{}, m.ttl)
	return nil
}
