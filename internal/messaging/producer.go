package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"bidding-engine/internal/config"
	"bidding-engine/internal/engine"
)

// completedEvent is the payload the settlement side of the marketplace consumes.
type completedEvent struct {
	AuctionID        string `json:"auctionId"`
	WinnerID         string `json:"winnerId"`
	WinningBidAmount string `json:"winningBidAmount"`
	ReserveMet       bool   `json:"reserveMet"`
}

// Producer publishes auction.completed events back to the marketplace.
type Producer struct {
	cfg    config.AMQPConfig
	logger zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewProducer builds the completion publisher.
func NewProducer(cfg config.AMQPConfig, logger zerolog.Logger) *Producer {
	return &Producer{
		cfg:    cfg,
		logger: logger.With().Str("component", "amqp_producer").Logger(),
	}
}

// PublishCompleted sends the final outcome of a completed auction.
func (p *Producer) PublishCompleted(ctx context.Context, res engine.Result) error {
	ev := completedEvent{
		AuctionID:  res.AuctionID,
		WinnerID:   res.WinnerID,
		ReserveMet: res.ReserveMet,
	}
	if res.FinalBid != nil {
		ev.WinningBidAmount = res.FinalBid.String()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx,
		"",                  // default exchange
		p.cfg.CompletedQueue,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		p.reset()
		return fmt.Errorf("publish completion event: %w", err)
	}

	p.logger.Info().Str("auction_id", res.AuctionID).Str("winner_id", res.WinnerID).
		Msg("published auction.completed")
	return nil
}

// Close releases the broker connection.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// channel returns the open channel, dialing lazily so startup does not depend on
// broker availability.
func (p *Producer) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		return p.ch, nil
	}

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.cfg.CompletedQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return p.ch, nil
}

func (p *Producer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

var _ engine.CompletionPublisher = (*Producer)(nil)
