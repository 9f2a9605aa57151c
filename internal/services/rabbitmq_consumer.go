package services

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
)

// ListingEventHandler receives one decoded listing event
type ListingEventHandler func(routingKey string, event models.ListingCreatedEvent) error

// RabbitMQConsumer follows the listing events on the exchange through a
// private, auto-deleted queue
type RabbitMQConsumer struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	exchangeName string
	bindingKey   string
}

// NewRabbitMQConsumer connects to the broker. bindingKey defaults to "listing.*".
func NewRabbitMQConsumer(url, exchangeName, bindingKey string) (*RabbitMQConsumer, error) {
	if bindingKey == "" {
		bindingKey = "listing.*"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &RabbitMQConsumer{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		bindingKey:   bindingKey,
	}, nil
}

// Run consumes until ctx is done or the channel closes
func (c *RabbitMQConsumer) Run(ctx context.Context, handle ListingEventHandler) error {
	if err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, c.bindingKey, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", c.bindingKey, err)
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	log.Info().
		Str("exchange", c.exchangeName).
		Str("binding", c.bindingKey).
		Msg("Listing event consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			handleDelivery(d, handle)
		}
	}
}

// handleDelivery decodes one message and settles it. Undecodable messages are
// dropped, handler failures are requeued once.
func handleDelivery(d amqp.Delivery, handle ListingEventHandler) {
	var event models.ListingCreatedEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("Failed to unmarshal listing event")
		_ = d.Nack(false, false)
		return
	}

	if err := handle(d.RoutingKey, event); err != nil {
		log.Error().Err(err).Str("id", event.ID).Msg("Listing event handler failed")
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	_ = d.Ack(false)
}

// Close closes the channel and the connection
func (c *RabbitMQConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
