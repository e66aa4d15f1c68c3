package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/config"
	"bidding-engine/internal/engine"
)

const (
	routingKeyCreated   = "auction.created"
	routingKeyCancelled = "auction.cancelled"

	reconnectDelay = 5 * time.Second
)

// cancelledEvent is the auction service's cancellation payload.
type cancelledEvent struct {
	AuctionID string `json:"auctionId"`
	Reason    string `json:"reason"`
}

// Consumer listens for auction lifecycle events on the marketplace's topic
// exchange and drives the session registry: auction.created starts a session,
// auction.cancelled tears one down.
type Consumer struct {
	cfg      config.AMQPConfig
	registry *engine.Registry
	logger   zerolog.Logger
}

// NewConsumer builds the lifecycle consumer.
func NewConsumer(cfg config.AMQPConfig, registry *engine.Registry, logger zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "amqp_consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled, reconnecting on broker failure.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(err).Dur("retry_in", reconnectDelay).Msg("consumer disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// done releases the queue forwarders once this consume cycle is over, so a
	// reconnect never strands a goroutine on the merged channel.
	done := make(chan struct{})
	defer close(done)

	deliveries, err := c.bindQueues(ch, done)
	if err != nil {
		return err
	}

	c.logger.Info().Str("exchange", c.cfg.Exchange).Msg("listening for auction lifecycle events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) bindQueues(ch *amqp.Channel, done <-chan struct{}) (<-chan amqp.Delivery, error) {
	type binding struct {
		queue      string
		routingKey string
	}
	bindings := []binding{
		{c.cfg.CreatedQueue, routingKeyCreated},
		{c.cfg.CancelledQueue, routingKeyCancelled},
	}

	merged := make(chan amqp.Delivery)
	for _, b := range bindings {
		q, err := ch.QueueDeclare(b.queue, true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(q.Name, b.routingKey, c.cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
		deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("consume queue %s: %w", b.queue, err)
		}
		go forwardDeliveries(deliveries, merged, done)
	}
	return merged, nil
}

// forwardDeliveries funnels one queue's deliveries into the merged channel until
// the source closes or the consume cycle signals done.
func forwardDeliveries(in <-chan amqp.Delivery, out chan<- amqp.Delivery, done <-chan struct{}) {
	for d := range in {
		select {
		case out <- d:
		case <-done:
			return
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	switch msg.RoutingKey {
	case routingKeyCreated:
		var cfg auction.Config
		if err := json.Unmarshal(msg.Body, &cfg); err != nil {
			c.logger.Error().Err(err).Msg("malformed auction.created event")
			return
		}
		if _, err := c.registry.StartSession(cfg); err != nil {
			if errors.Is(err, auction.ErrAlreadyActive) {
				return
			}
			c.logger.Error().Err(err).Str("auction_id", cfg.ID).Msg("failed to start session from event")
			return
		}
		c.logger.Info().Str("auction_id", cfg.ID).Msg("session started from auction.created")

	case routingKeyCancelled:
		var ev cancelledEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			c.logger.Error().Err(err).Msg("malformed auction.cancelled event")
			return
		}
		if err := c.registry.CancelSession(ctx, ev.AuctionID, ev.Reason); err != nil {
			if errors.Is(err, auction.ErrNotFound) {
				return
			}
			c.logger.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to cancel session from event")
			return
		}
		c.logger.Info().Str("auction_id", ev.AuctionID).Msg("session cancelled from auction.cancelled")

	default:
		c.logger.Warn().Str("routing_key", msg.RoutingKey).Msg("unexpected routing key")
	}
}
