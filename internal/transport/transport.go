// Package transport defines the broker-agnostic contract the Broker Adapter
// implements (spec.md §4.2), adapted from a generic pub/sub broker
// abstraction down to the bridge's fixed AMQP topology plus narrow
// one-off producers for notification and audit fan-out.
package transport

import "context"

// Message is the broker-agnostic delivery abstraction: a consumed message
// plus its acknowledgment controls.
type Message interface {
	Body() []byte
	Headers() map[string]string
	RoutingKey() string
	Ack() error
	Nack(requeue bool) error
}

// Handler processes one delivery. Returning an error leaves the message
// unacked; the caller decides whether to Nack with requeue.
type Handler func(ctx context.Context, msg Message) error

// Adapter is the contract the bridge speaks to its message broker
// (spec.md §4.2): connect, publish with the durability and content-type
// rules the spec fixes, and consume with manual acknowledgment.
type Adapter interface {
	// Connect opens the connection and channel, declaring the full topology
	// (spec.md §4.1) idempotently.
	Connect(ctx context.Context) error

	// IsConnected reports whether the adapter currently holds a live
	// connection, for the Consumer Framework's heartbeat reconnect check
	// (spec.md §4.5 step 5).
	IsConnected() bool

	// Publish sends body to exchange under routingKey, durable
	// (delivery-mode=2), content-type application/json, headers copied
	// verbatim. On a transient connection error it reconnects once and
	// retries exactly once before returning failure (spec.md §4.2).
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]string) error

	// Consume starts a manual-ack, prefetch=1 delivery loop over queue,
	// invoking handler for each message until ctx is canceled.
	Consume(ctx context.Context, queue string, handler Handler) error

	// Get fetches a single message from queue without blocking (manual ack),
	// for pull-mode consumers and drain/peek-style queries (Response Loop
	// pull mode, Reconciliation Tracker, Recovery Utility). ok is false when
	// the queue is empty.
	Get(ctx context.Context, queue string) (msg Message, ok bool, err error)

	// QueueInfo reports a queue's current depth, for status and
	// recovery queue scans.
	QueueInfo(ctx context.Context, queue string) (QueueInfo, error)

	// Close tears down the channel and connection.
	Close() error
}

// QueueInfo is a point-in-time queue depth snapshot.
type QueueInfo struct {
	Name      string
	Messages  int
	Consumers int
}
