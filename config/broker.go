package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"
)

// EventEnvelope is the wire payload handed to the message bus. Consumers
// must dedupe on (event_type, aggregate_id, occurred_at) since delivery is
// at-least-once.
type EventEnvelope struct {
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateId   string          `json:"aggregate_id"`
	BusinessId    string          `json:"business_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
}

func (e EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// RoutingKeyForEvent maps a CamelCase event type to a dotted routing key,
// e.g. "StockReserved" -> "stock.reserved".
func RoutingKeyForEvent(eventType string) string {
	var b strings.Builder
	for i, r := range eventType {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BrokerPublisher abstracts the outbound message bus so the outbox relay
// can be exercised against a fake in tests.
type BrokerPublisher interface {
	Publish(ctx context.Context, env EventEnvelope) (messageId string, err error)
}

// NewBrokerPublisherFromEnv selects the broker driver. Defaults to Google
// Pub/Sub; set BROKER_DRIVER=rabbitmq to publish to an AMQP topic exchange.
func NewBrokerPublisherFromEnv() (BrokerPublisher, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("BROKER_DRIVER")))
	switch driver {
	case "", "pubsub":
		return NewPubSubPublisher()
	case "rabbitmq", "amqp":
		return NewRabbitMQPublisher()
	default:
		return nil, fmt.Errorf("unknown BROKER_DRIVER %q", driver)
	}
}
