package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ publisher configuration
type Config struct {
	URL      string
	Exchange string
}

// Publisher publishes persistent JSON messages to a durable topic exchange
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange
func NewPublisher(cfg *Config) (*Publisher, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq: url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "booking.events"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
	}

	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishJSON publishes data with routingKey; key is carried as the message id
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, key string, data interface{}, headers map[string]string) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal failed: %w", err)
	}

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    key,
		Headers:      table,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

// IsClosed reports whether the broker connection is gone
func (p *Publisher) IsClosed() bool {
	return p.conn.IsClosed()
}

// HealthCheck fails once the broker connection has dropped
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if p.IsClosed() {
		return fmt.Errorf("rabbitmq: connection closed")
	}
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}
