// Package routing holds the static routing table (spec.md §3.5) and the
// topic-pattern matcher used to validate it and to derive routing keys
// (spec.md §4.1).
package routing

import (
	"fmt"
	"sync"
)

const defaultSystem = "default"

// Binding is one queue with its routing-key patterns into the main exchange.
type Binding struct {
	Queue    string
	Patterns []string
}

// snapshot is the immutable routing data a Table wraps. Replace copies a
// whole new snapshot value in under Table.mu rather than mutating fields in place, so
// concurrent readers never observe a torn update.
type snapshot struct {
	TopicToSystem    map[string]string
	SystemToQueue    map[string]string
	RoutingBindings  map[string][]string // queue -> routing-key patterns
	SentQueueMapping map[string]string   // source queue -> sent-mirror queue
	DefaultQueue     string
	ErrorQueue       string
	ErrorRoutingKey  string
}

// Table is the static routing configuration: which system a topic belongs
// to, which queue a system delivers into, the queue's bindings into the
// main exchange, and the sent-mirror queue for every source queue
// (spec.md §3.5). It is safe for concurrent use: every accessor takes a
// read lock, and Replace takes a write lock when the hot-reload watcher
// installs a newly parsed table.
type Table struct {
	mu sync.RWMutex
	s  snapshot
}

// New wraps a freshly loaded snapshot's fields into a Table.
func New(topicToSystem, systemToQueue map[string]string, routingBindings map[string][]string, sentQueueMapping map[string]string, defaultQueue, errorQueue, errorRoutingKey string) *Table {
	return &Table{s: snapshot{
		TopicToSystem:    topicToSystem,
		SystemToQueue:    systemToQueue,
		RoutingBindings:  routingBindings,
		SentQueueMapping: sentQueueMapping,
		DefaultQueue:     defaultQueue,
		ErrorQueue:       errorQueue,
		ErrorRoutingKey:  errorRoutingKey,
	}}
}

// Replace atomically swaps this table's contents with updated's, so
// in-flight readers either see the whole old snapshot or the whole new one,
// never a mix (spec.md §6, routing-table hot-reload).
func (t *Table) Replace(updated *Table) {
	updated.mu.RLock()
	next := updated.s
	updated.mu.RUnlock()

	t.mu.Lock()
	t.s = next
	t.mu.Unlock()
}

// SystemFor resolves the system a topic belongs to, falling back to
// "default" (spec.md §4.1: "system = topicToSystem[t] or \"default\"").
func (t *Table) SystemFor(topic string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if system, ok := t.s.TopicToSystem[topic]; ok && system != "" {
		return system
	}
	return defaultSystem
}

// RoutingKey derives the publish routing key for a topic: "system.topic"
// (spec.md §4.1).
func (t *Table) RoutingKey(topic string) string {
	return t.SystemFor(topic) + "." + topic
}

// QueueFor resolves the queue a system's work items land in.
func (t *Table) QueueFor(system string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.s.SystemToQueue[system]
	return q, ok
}

// SentQueueFor resolves the sent-mirror queue for a source queue
// (spec.md §3.4, §4.1 step 8).
func (t *Table) SentQueueFor(sourceQueue string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.s.SentQueueMapping[sourceQueue]
	return q, ok
}

// SystemToQueue returns a snapshot copy of the system->queue mapping, for
// callers (e.g. cmd/bridge's dispatcher wiring) that need to range over it.
func (t *Table) SystemToQueue() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.s.SystemToQueue))
	for k, v := range t.s.SystemToQueue {
		out[k] = v
	}
	return out
}

// SentQueueMapping returns a snapshot copy of the source->mirror queue
// mapping, for callers that need to range over it.
func (t *Table) SentQueueMapping() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.s.SentQueueMapping))
	for k, v := range t.s.SentQueueMapping {
		out[k] = v
	}
	return out
}

// DefaultQueue returns the catch-all queue for unmatched routing keys.
func (t *Table) DefaultQueue() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.DefaultQueue
}

// ErrorQueue returns the queue messages that cannot be mapped to a task are
// routed to (spec.md §7).
func (t *Table) ErrorQueue() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.ErrorQueue
}

// ErrorRoutingKey returns the errors.* routing-key prefix the error queue
// is bound under.
func (t *Table) ErrorRoutingKey() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.ErrorRoutingKey
}

// BindingPatterns returns the routing-key patterns bound to queue.
func (t *Table) BindingPatterns(queue string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.RoutingBindings[queue]
}

// Bindings lists every system queue with its routing-key patterns, in the
// order the Broker Adapter must declare them (spec.md §4.1 step 5).
func (t *Table) Bindings() []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bindings := make([]Binding, 0, len(t.s.RoutingBindings))
	for queue, patterns := range t.s.RoutingBindings {
		bindings = append(bindings, Binding{Queue: queue, Patterns: patterns})
	}
	return bindings
}

// Validate checks the invariant from spec.md §3.5: every system queue has
// at least one binding into the main exchange, and the routing table does
// not reference a queue that was never declared.
func (t *Table) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for system, queue := range t.s.SystemToQueue {
		patterns, ok := t.s.RoutingBindings[queue]
		if !ok || len(patterns) == 0 {
			return fmt.Errorf("routing: system %q queue %q has no main-exchange bindings", system, queue)
		}
	}
	return nil
}

// MatchTopic reports whether a queue's routing-key patterns would route a
// given derived routing key, using AMQP topic-exchange wildcard semantics
// (spec.md §4.1; "*" = exactly one level, "#" = zero or more levels). This
// lets the bridge simulate and validate the routing table locally without a
// live broker round-trip.
func (t *Table) MatchTopic(queue, routingKey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, pattern := range t.s.RoutingBindings[queue] {
		if DefaultMatcher.Match(pattern, routingKey) {
			return true
		}
	}
	return false
}

// ResolveQueue simulates the main exchange's routing decision for a given
// topic: it returns the queue a published message would land in, or the
// default queue if nothing binds it (spec.md §4.1, "unknown topics are
// observed, not lost").
func (t *Table) ResolveQueue(topic string) string {
	key := t.RoutingKey(topic)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for queue, patterns := range t.s.RoutingBindings {
		for _, pattern := range patterns {
			if DefaultMatcher.Match(pattern, key) {
				return queue
			}
		}
	}
	return t.s.DefaultQueue
}
