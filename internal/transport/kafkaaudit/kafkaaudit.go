// Package kafkaaudit mirrors finalized task outcomes to a Kafka topic for
// durable, queryable audit trails outside the bridge's own broker (SPEC_FULL.md
// §4.7). Publishing is best-effort: a Kafka outage must never block the
// Response Loop from finalizing a task against the engine.
package kafkaaudit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

// Producer writes OutcomeAuditRecord values to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

// New creates a Producer backed by a single shared kafka.Writer, the way
// the broker-abstraction examples in this codebase share one writer across
// all Publish calls.
func New(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish writes one OutcomeAuditRecord, keyed by taskId so records for the
// same task land on the same partition.
func (p *Producer) Publish(ctx context.Context, record engine.OutcomeAuditRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("kafkaaudit: marshal record: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.TaskID),
		Value: body,
	})
	if err != nil {
		return fmt.Errorf("kafkaaudit: publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
