package amqp

import (
	"fmt"

	rabbitmq "github.com/rabbitmq/amqp091-go"

	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

// delivery adapts an amqp091.Delivery to transport.Message.
type delivery struct {
	d rabbitmq.Delivery
}

var _ transport.Message = (*delivery)(nil)

func (m *delivery) Body() []byte         { return m.d.Body }
func (m *delivery) RoutingKey() string   { return m.d.RoutingKey }

func (m *delivery) Headers() map[string]string {
	h := make(map[string]string, len(m.d.Headers))
	for k, v := range m.d.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	return h
}

func (m *delivery) Ack() error {
	if err := m.d.Ack(false); err != nil {
		return fmt.Errorf("amqp: ack: %w", err)
	}
	return nil
}

func (m *delivery) Nack(requeue bool) error {
	if err := m.d.Nack(false, requeue); err != nil {
		return fmt.Errorf("amqp: nack: %w", err)
	}
	return nil
}
