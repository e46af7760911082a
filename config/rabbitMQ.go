package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultEventExchange = "commerce_events"

// RabbitMQPublisher publishes outbox envelopes to a topic exchange with the
// routing key derived from the event type.
type RabbitMQPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQPublisher() (*RabbitMQPublisher, error) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		return nil, errors.New("RABBITMQ_URL is required")
	}
	exchange := os.Getenv("RABBITMQ_EXCHANGE")
	if exchange == "" {
		exchange = defaultEventExchange
	}
	return &RabbitMQPublisher{url: url, exchange: exchange}, nil
}

func (p *RabbitMQPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}
	p.ch = ch
	return ch, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, env EventEnvelope) (string, error) {
	ch, err := p.channel()
	if err != nil {
		return "", err
	}

	data, err := env.Marshal()
	if err != nil {
		return "", err
	}

	messageId := fmt.Sprintf("%s:%s:%d", env.EventType, env.AggregateId, env.OccurredAt.UnixNano())
	err = ch.PublishWithContext(ctx,
		p.exchange,
		RoutingKeyForEvent(env.EventType),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageId,
			Timestamp:    time.Now().UTC(),
			Body:         data,
		})
	if err != nil {
		return "", fmt.Errorf("publish to exchange %q: %w", p.exchange, err)
	}
	return messageId, nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
