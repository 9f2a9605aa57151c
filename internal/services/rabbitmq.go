package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/dozin/internal/models"
)

// RoutingKeyListingCreated is the routing key of ListingCreatedEvent
const RoutingKeyListingCreated = "listing.created"

// ErrPublisherClosed is returned once Close has been called
var ErrPublisherClosed = errors.New("RabbitMQ publisher is closed")

// RabbitMQPublisher publishes listing events to a topic exchange
type RabbitMQPublisher struct {
	mu           sync.RWMutex
	conn         *amqp.Connection
	channel      *amqp.Channel
	exchangeName string
	url          string
	closed       chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

// NewRabbitMQPublisher connects and declares the exchange
func NewRabbitMQPublisher(url, exchangeName string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{
		exchangeName: exchangeName,
		url:          url,
		closed:       make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.handleReconnect()

	log.Info().
		Str("exchange", exchangeName).
		Msg("RabbitMQ publisher initialized")

	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		p.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed() {
		// Close ran while we were dialing
		channel.Close()
		conn.Close()
		return ErrPublisherClosed
	}
	p.conn = conn
	p.channel = channel
	return nil
}

func (p *RabbitMQPublisher) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// PublishListingCreated publishes a listing.created event
func (p *RabbitMQPublisher) PublishListingCreated(ctx context.Context, event models.ListingCreatedEvent) error {
	return p.publish(ctx, RoutingKeyListingCreated, event.ID, event)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, routingKey, messageID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if p.isClosed() {
		return ErrPublisherClosed
	}

	p.mu.RLock()
	channel := p.channel
	p.mu.RUnlock()
	if channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	err = channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    messageID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Info().
		Str("routing_key", routingKey).
		Str("exchange", p.exchangeName).
		Int("body_size", len(body)).
		Msg("Message published to RabbitMQ")

	return nil
}

// handleReconnect redials every 5 seconds after the connection drops.
// It returns only once Close has been called.
func (p *RabbitMQPublisher) handleReconnect() {
	for {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()

		// NotifyClose on an already closed connection yields a closed channel
		closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if p.isClosed() {
			return
		}
		if !ok || closeErr == nil {
			log.Error().Msg("RabbitMQ connection lost before close notification, attempting to reconnect...")
		} else {
			log.Error().
				Err(closeErr).
				Msg("RabbitMQ connection closed, attempting to reconnect...")
		}

		if !p.redial() {
			return
		}
	}
}

// redial loops until a connection is up. It reports false when Close ends it.
func (p *RabbitMQPublisher) redial() bool {
	for {
		select {
		case <-p.closed:
			return false
		case <-time.After(5 * time.Second):
		}

		err := p.connect()
		if errors.Is(err, ErrPublisherClosed) {
			return false
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")
			continue
		}
		log.Info().Msg("Reconnected to RabbitMQ")
		return true
	}
}

// Close closes the RabbitMQ connection. Later calls return the first result.
func (p *RabbitMQPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		close(p.closed)

		if p.channel != nil {
			if err := p.channel.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
			}
		}
		if p.conn != nil {
			if err := p.conn.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
				p.closeErr = err
				return
			}
		}
		log.Info().Msg("RabbitMQ publisher closed")
	})
	return p.closeErr
}

// HealthCheck verifies the RabbitMQ connection
func (p *RabbitMQPublisher) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}
	if p.channel == nil {
		return fmt.Errorf("RabbitMQ channel is nil")
	}
	return nil
}
