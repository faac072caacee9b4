// Package metadata caches BPMN service-task metadata parsed from the
// engine's process-definition XML, lazily loaded and LRU+TTL evicted
// (spec.md §3.2, §4.3), grounded on bpmn_metadata_cache.py.
package metadata

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/metrics"
)

// xmlFetcher is the subset of engine.Client the cache needs, so tests can
// supply a fake without a live engine.
type xmlFetcher interface {
	ProcessDefinitionXML(ctx context.Context, processDefinitionID string) (string, error)
}

type entry struct {
	activities   map[string]engine.ActivityMetadata
	cachedAt     time.Time
	lastAccessed time.Time
	sizeBytes    int
}

// Stats mirrors the counters the original cache reports (spec.md §4.3).
type Stats struct {
	CacheHits       int
	CacheMisses     int
	XMLRequests     int
	ParseOperations int
	CacheEvictions  int
}

// Cache is the Metadata Cache: process-definition-id keyed, LRU+TTL
// evicted, RLock-free mutation path guarded by a single mutex (the
// original uses one RLock around every mutating operation; a Go RWMutex
// does not buy anything extra here since every cache operation mutates
// last-accessed, so a plain Mutex is used instead).
type Cache struct {
	engine     xmlFetcher
	maxEntries int
	ttl        time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	stats   Stats
}

// New builds a Cache. maxEntries bounds the number of cached process
// definitions before LRU eviction kicks in (spec.md §4.3; default 150).
// m may be nil, in which case metrics are skipped.
func New(eng xmlFetcher, maxEntries int, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		engine:     eng,
		maxEntries: maxEntries,
		ttl:        ttl,
		log:        log,
		metrics:    m,
		entries:    make(map[string]*entry),
	}
}

// ActivityMetadata returns the metadata for one activity within a process
// definition, fetching and parsing the BPMN XML on a cache miss
// (spec.md §4.3).
func (c *Cache) ActivityMetadata(ctx context.Context, processDefinitionID, activityID string) (engine.ActivityMetadata, error) {
	c.mu.Lock()
	e := c.getLocked(processDefinitionID)
	if e != nil {
		c.stats.CacheHits++
		meta := e.activities[activityID]
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return meta, nil
	}
	c.stats.CacheMisses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	bpmnXML, err := c.engine.ProcessDefinitionXML(ctx, processDefinitionID)
	if err != nil {
		return engine.ActivityMetadata{}, err
	}
	c.mu.Lock()
	c.stats.XMLRequests++
	c.mu.Unlock()

	activities, err := ParseServiceTasks(bpmnXML)
	c.mu.Lock()
	c.stats.ParseOperations++
	c.mu.Unlock()
	if err != nil {
		return engine.ActivityMetadata{}, err
	}

	c.mu.Lock()
	c.saveLocked(processDefinitionID, bpmnXML, activities)
	meta := activities[activityID]
	c.mu.Unlock()

	return meta, nil
}

// getLocked looks up a live (non-expired) entry and bumps its
// last-accessed time for LRU purposes. Caller must hold c.mu.
func (c *Cache) getLocked(processDefinitionID string) *entry {
	e, ok := c.entries[processDefinitionID]
	if !ok {
		return nil
	}
	if time.Since(e.cachedAt) >= c.ttl {
		delete(c.entries, processDefinitionID)
		return nil
	}
	e.lastAccessed = time.Now()
	return e
}

// saveLocked stores a freshly parsed entry, evicting first if the cache is
// at capacity. Caller must hold c.mu.
func (c *Cache) saveLocked(processDefinitionID, bpmnXML string, activities map[string]engine.ActivityMetadata) {
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.entries[processDefinitionID] = &entry{
		activities:   activities,
		cachedAt:     now,
		lastAccessed: now,
		sizeBytes:    len(bpmnXML),
	}
}

// evictOldestLocked removes the oldest 25% of entries by last-accessed
// time, at least one (spec.md §4.3, "evict oldest 25% by lastAccessed").
// Caller must hold c.mu.
func (c *Cache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}
	type keyed struct {
		id   string
		last time.Time
	}
	ordered := make([]keyed, 0, len(c.entries))
	for id, e := range c.entries {
		ordered = append(ordered, keyed{id: id, last: e.lastAccessed})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].last.Before(ordered[j].last) })

	toRemove := len(ordered) / 4
	if toRemove < 1 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(ordered); i++ {
		delete(c.entries, ordered[i].id)
		c.stats.CacheEvictions++
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
}

// Stats returns a snapshot of the cache's counters plus its current size.
func (c *Cache) Stats() (Stats, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, len(c.entries)
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Remove evicts a single process definition's entry, if present.
func (c *Cache) Remove(processDefinitionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[processDefinitionID]; !ok {
		return false
	}
	delete(c.entries, processDefinitionID)
	return true
}
