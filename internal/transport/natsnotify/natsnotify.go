// Package natsnotify publishes FinalizedEvent notifications to a JetStream
// stream for dashboards and other internal consumers that want a push feed
// (SPEC_FULL.md §2 and §4.8, notification fan-out). The response queue and
// sent-mirror queues remain the systems of record; this is best-effort and
// never blocks the Reconciliation Tracker's primary path.
package natsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

// Publisher publishes FinalizedEvent notifications to a JetStream subject.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string

	mu     sync.Mutex
	closed bool
}

// New connects to NATS and ensures the backing stream exists for subject.
func New(ctx context.Context, url, streamName, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("natsnotify: connect to %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsnotify: init jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsnotify: create stream %q: %w", streamName, err)
	}

	return &Publisher{conn: nc, js: js, subject: subject}, nil
}

// Publish sends a FinalizedEvent. Callers treat failures as best-effort: log
// and continue, never block finalization on notification delivery.
func (p *Publisher) Publish(ctx context.Context, event engine.FinalizedEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("natsnotify: publisher closed")
	}
	p.mu.Unlock()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("natsnotify: marshal event: %w", err)
	}

	if _, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: p.subject,
		Data:    body,
	}); err != nil {
		return fmt.Errorf("natsnotify: publish to %q: %w", p.subject, err)
	}
	return nil
}

// Close closes the NATS connection without draining it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.conn.Close()
	return nil
}
