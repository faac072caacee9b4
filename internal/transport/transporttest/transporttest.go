// Package transporttest provides in-memory test doubles for
// transport.Adapter and transport.Message, used throughout the bridge's
// test suite in place of a live broker.
package transporttest

import (
	"context"
	"sync"

	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// Adapter is a test double for transport.Adapter.
type Adapter struct {
	mu        sync.Mutex
	published []Published
	queues    map[string][]*Message
	handlers  map[string]transport.Handler

	PublishErr error
	ConnectErr error
	closed     bool
	connected  bool
}

// Published records one call to Publish.
type Published struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

// NewAdapter builds an empty Adapter test double.
func NewAdapter() *Adapter {
	return &Adapter{
		queues:    make(map[string][]*Message),
		handlers:  make(map[string]transport.Handler),
		connected: true,
	}
}

var _ transport.Adapter = (*Adapter)(nil)

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ConnectErr != nil {
		return a.ConnectErr
	}
	a.connected = true
	return nil
}

// IsConnected reports the test double's simulated connection state.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Disconnect simulates a dropped broker connection, for exercising the
// Consumer Framework's reconnect path.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
}

func (a *Adapter) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PublishErr != nil {
		return a.PublishErr
	}
	a.published = append(a.published, Published{Exchange: exchange, RoutingKey: routingKey, Body: body, Headers: headers})
	return nil
}

// Consume registers handler for queue and blocks until ctx is canceled,
// simulating a real consume loop (grounded on the pack's mock broker
// Subscribe behavior).
func (a *Adapter) Consume(ctx context.Context, queue string, handler transport.Handler) error {
	a.mu.Lock()
	a.handlers[queue] = handler
	a.mu.Unlock()

	<-ctx.Done()
	return nil
}

// Deliver simulates an incoming message on queue to its registered handler.
func (a *Adapter) Deliver(ctx context.Context, queue string, msg *Message) error {
	a.mu.Lock()
	h, ok := a.handlers[queue]
	a.mu.Unlock()
	if !ok {
		return transport.ErrNotConnected
	}
	return h(ctx, msg)
}

// Enqueue appends msg to queue's backlog for QueueInfo/drain-style tests.
func (a *Adapter) Enqueue(queue string, msg *Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues[queue] = append(a.queues[queue], msg)
}

// Get pops the oldest enqueued message for queue, simulating a non-blocking
// single-message fetch (grounded on amqp091-go's Channel.Get).
func (a *Adapter) Get(ctx context.Context, queue string) (transport.Message, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	backlog := a.queues[queue]
	if len(backlog) == 0 {
		return nil, false, nil
	}
	msg := backlog[0]
	a.queues[queue] = backlog[1:]
	return msg, true, nil
}

func (a *Adapter) QueueInfo(ctx context.Context, queue string) (transport.QueueInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return transport.QueueInfo{Name: queue, Messages: len(a.queues[queue])}, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Published returns every message sent via Publish, in order.
func (a *Adapter) Published() []Published {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Published, len(a.published))
	copy(out, a.published)
	return out
}

// IsClosed reports whether Close was called.
func (a *Adapter) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Message is a transport.Message test double.
type Message struct {
	B       []byte
	H       map[string]string
	Key     string
	AckErr  error
	NackErr error

	Acked    bool
	Nacked   bool
	Requeued bool
}

var _ transport.Message = (*Message)(nil)

func (m *Message) Body() []byte              { return m.B }
func (m *Message) Headers() map[string]string { return m.H }
func (m *Message) RoutingKey() string        { return m.Key }

func (m *Message) Ack() error {
	m.Acked = true
	return m.AckErr
}

func (m *Message) Nack(requeue bool) error {
	m.Nacked = true
	m.Requeued = requeue
	return m.NackErr
}
