// Package amqp is the Broker Adapter implementation for RabbitMQ
// (spec.md §4.2), adapted from a generic broker plugin down to the
// bridge's fixed eight-declaration topology, circuit-broken with
// sony/gobreaker.
package amqp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rabbitmq "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/config"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// Adapter implements transport.Adapter over a single AMQP connection and
// channel.
//
//   - Manual ack mode, prefetch=1 (spec.md §4.6).
//   - Durable queues and delivery-mode=2 publishes.
//   - One reconnect + one retry on a transient publish error (spec.md §4.2).
//   - A gobreaker CircuitBreaker wraps the reconnect+retry path so a broker
//     that stays down fails fast instead of being hammered on every publish.
type Adapter struct {
	uri   string
	cfg   config.RabbitMQ
	table *routing.Table
	log   *zap.Logger

	mu     sync.Mutex
	conn   *rabbitmq.Connection
	ch     *rabbitmq.Channel
	closed bool

	breaker *gobreaker.CircuitBreaker
}

// New builds an Adapter. Connect must be called before Publish/Consume.
func New(uri string, cfg config.RabbitMQ, table *routing.Table, log *zap.Logger) *Adapter {
	a := &Adapter{uri: uri, cfg: cfg, table: table, log: log}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq-adapter",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			}
		},
	})
	return a
}

var _ transport.Adapter = (*Adapter)(nil)

// Connect opens the connection and channel, sets prefetch=1, and declares
// the full topology (spec.md §4.1, §4.2: "fail fast with a typed error on
// auth or transport failure").
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectLocked()
}

func (a *Adapter) connectLocked() error {
	conn, err := rabbitmq.DialConfig(a.uri, rabbitmq.Config{
		Heartbeat: a.cfg.Heartbeat,
	})
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: open channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: set qos: %w", err)
	}

	if err := NewTopology(a.cfg, a.table).Declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	a.conn = conn
	a.ch = ch
	return nil
}

// Publish sends body durably (delivery-mode=2) with content-type
// application/json, copying headers verbatim. On a transient transport
// error it reconnects once and retries exactly once (spec.md §4.2).
func (a *Adapter) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]string) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.publishWithOneRetry(ctx, exchange, routingKey, body, headers)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: %v", transport.ErrTransientFailure, err)
	}
	return err
}

func (a *Adapter) publishWithOneRetry(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]string) error {
	if err := a.publishOnce(ctx, exchange, routingKey, body, headers); err == nil {
		return nil
	} else if !isTransient(err) {
		return err
	}

	a.mu.Lock()
	reconnectErr := a.reconnectLocked()
	a.mu.Unlock()
	if reconnectErr != nil {
		return fmt.Errorf("%w: reconnect failed: %v", transport.ErrTransientFailure, reconnectErr)
	}

	if err := a.publishOnce(ctx, exchange, routingKey, body, headers); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransientFailure, err)
	}
	return nil
}

func (a *Adapter) publishOnce(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return transport.ErrClosed
	}
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return transport.ErrNotConnected
	}

	table := rabbitmq.Table{}
	for k, v := range headers {
		table[k] = v
	}

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, rabbitmq.Publishing{
		ContentType:  "application/json",
		DeliveryMode: rabbitmq.Persistent,
		Body:         body,
		Headers:      table,
	})
}

// IsConnected reports whether the adapter holds a live connection
// (spec.md §4.5 step 5).
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.conn == nil {
		return false
	}
	return !a.conn.IsClosed()
}

// reconnectLocked tears down the current connection (if any) and
// reconnects. Caller must hold a.mu.
func (a *Adapter) reconnectLocked() error {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.conn != nil {
		a.conn.Close()
	}
	return a.connectLocked()
}

// Consume starts a manual-ack delivery loop over queue.
func (a *Adapter) Consume(ctx context.Context, queue string, handler transport.Handler) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return transport.ErrClosed
	}
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return transport.ErrNotConnected
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: consume %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return transport.ErrTransientFailure
			}
			msg := &delivery{d: d}
			if err := handler(ctx, msg); err != nil && a.log != nil {
				a.log.Error("delivery handler error", zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

// Get fetches a single message from queue without blocking, for pull-mode
// consumers and drain/peek-style queries.
func (a *Adapter) Get(ctx context.Context, queue string) (transport.Message, bool, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, false, transport.ErrClosed
	}
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return nil, false, transport.ErrNotConnected
	}

	d, ok, err := ch.Get(queue, false)
	if err != nil {
		return nil, false, fmt.Errorf("amqp: get %q: %w", queue, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &delivery{d: d}, true, nil
}

// QueueInfo reports a queue's current depth via a passive declare.
func (a *Adapter) QueueInfo(ctx context.Context, queue string) (transport.QueueInfo, error) {
	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return transport.QueueInfo{}, transport.ErrNotConnected
	}

	q, err := ch.QueueInspect(queue)
	if err != nil {
		return transport.QueueInfo{}, fmt.Errorf("amqp: inspect %q: %w", queue, err)
	}
	return transport.QueueInfo{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// Close tears down the channel and connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []string
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("amqp: close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// isTransient classifies the "connection reset / broken pipe / empty-deque"
// class of error the spec names (spec.md §4.2).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"connection reset", "broken pipe", "channel/connection is not open", "use of closed network connection", "EOF"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
