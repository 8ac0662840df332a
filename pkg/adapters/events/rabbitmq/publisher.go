// Package rabbitmq publishes lifecycle events to a RabbitMQ topic exchange
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aescanero/genflow/pkg/adapters/events"
	"github.com/aescanero/genflow/pkg/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the topic exchange events are published to
const DefaultExchange = "genflow.events"

// Channel is the subset of *amqp.Channel the publisher needs
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dial connects to RabbitMQ, opens a channel and declares a durable topic
// exchange.
func Dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return conn, ch, nil
}

// Publisher publishes events with routing key process.<event type>
type Publisher struct {
	ch       Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new Publisher
func NewPublisher(ch Channel, exchange string, logger *zap.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger,
	}
}

// Sink wraps the publisher in a non-blocking sink
func (p *Publisher) Sink(queueSize int, drops events.DropRecorder) *events.AsyncSink {
	return events.NewAsyncSink("rabbitmq", queueSize, p.Publish, p.logger, drops)
}

// RoutingKey returns the routing key for an event type
func RoutingKey(t domain.EventType) string {
	return "process." + string(t)
}

// Publish publishes one event as a persistent JSON message
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := RoutingKey(event.Type)
	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s-%d", event.ProcessID, event.ID),
			Timestamp:    event.Timestamp,
			Type:         string(event.Type),
			Headers:      amqp.Table{"process_id": event.ProcessID},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, key, err)
	}

	p.logger.Debug("published event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", key),
		zap.String("process_id", event.ProcessID))

	return nil
}
