package amqp

import (
	"fmt"

	rabbitmq "github.com/rabbitmq/amqp091-go"

	"github.com/vlikhobabin/camunda-bridge/internal/config"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
)

// Topology owns the eight idempotent declarations the bridge's broker
// topology requires on every connect (spec.md §4.1).
type Topology struct {
	cfg   config.RabbitMQ
	table *routing.Table
}

// NewTopology builds a Topology from the static routing table and the
// exchange/queue names from configuration.
func NewTopology(cfg config.RabbitMQ, table *routing.Table) *Topology {
	return &Topology{cfg: cfg, table: table}
}

// Declare performs the topology's eight declarations, in the order
// spec.md §4.1 fixes: alternate exchange, main exchange (with the
// alternate-exchange argument), response exchange+queue, sent exchange,
// system queues bound to the main exchange, the default queue bound only
// to the alternate exchange, the error queue, and the sent-mirror queues.
func (t *Topology) Declare(ch *rabbitmq.Channel) error {
	// 1. Alternate exchange (fanout, durable).
	if err := ch.ExchangeDeclare(t.cfg.AlternateExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare alternate exchange: %w", err)
	}

	// 2. Main exchange (topic, durable), falling through to (1) when unrouted.
	mainArgs := rabbitmq.Table{"alternate-exchange": t.cfg.AlternateExchange}
	if err := ch.ExchangeDeclare(t.cfg.TasksExchange, "topic", true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("amqp: declare main exchange: %w", err)
	}

	// 3. Response exchange (direct, durable) + the single response queue.
	if err := ch.ExchangeDeclare(t.cfg.ResponsesExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare responses exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(t.cfg.ResponsesQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare responses queue: %w", err)
	}
	if err := ch.QueueBind(t.cfg.ResponsesQueue, t.cfg.ResponsesQueue, t.cfg.ResponsesExchange, false, nil); err != nil {
		return fmt.Errorf("amqp: bind responses queue: %w", err)
	}

	// 4. Sent exchange (direct, durable).
	if err := ch.ExchangeDeclare(t.cfg.SentExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare sent exchange: %w", err)
	}

	// 5. System queues, each bound to the main exchange under its patterns.
	for _, binding := range t.table.Bindings() {
		if _, err := ch.QueueDeclare(binding.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare queue %q: %w", binding.Queue, err)
		}
		for _, pattern := range binding.Patterns {
			if err := ch.QueueBind(binding.Queue, pattern, t.cfg.TasksExchange, false, nil); err != nil {
				return fmt.Errorf("amqp: bind queue %q to %q: %w", binding.Queue, pattern, err)
			}
		}
	}

	// 6. Default queue, bound only to the alternate exchange.
	if _, err := ch.QueueDeclare(t.cfg.DefaultQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare default queue: %w", err)
	}
	if err := ch.QueueBind(t.cfg.DefaultQueue, "", t.cfg.AlternateExchange, false, nil); err != nil {
		return fmt.Errorf("amqp: bind default queue: %w", err)
	}

	// 7. Error queue, bound to the main exchange under a fixed errors.* key.
	if _, err := ch.QueueDeclare(t.cfg.ErrorQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare error queue: %w", err)
	}
	if err := ch.QueueBind(t.cfg.ErrorQueue, t.cfg.ErrorRoutingKeyPrefix+".#", t.cfg.TasksExchange, false, nil); err != nil {
		return fmt.Errorf("amqp: bind error queue: %w", err)
	}

	// 8. Sent-mirror queues, bound to the sent exchange under their own name.
	for sourceQueue, sentQueue := range t.table.SentQueueMapping() {
		if _, err := ch.QueueDeclare(sentQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare sent-mirror queue %q (for %q): %w", sentQueue, sourceQueue, err)
		}
		if err := ch.QueueBind(sentQueue, sentQueue, t.cfg.SentExchange, false, nil); err != nil {
			return fmt.Errorf("amqp: bind sent-mirror queue %q: %w", sentQueue, err)
		}
	}

	return nil
}
