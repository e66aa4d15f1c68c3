package broadcast

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber is one live connection watching an auction. Send must not block:
// transport implementations enqueue onto a bounded buffer and report failure when
// it is full or the connection is gone.
type Subscriber interface {
	// ID uniquely identifies the connection, not the user.
	ID() string
	// BidderID is the authenticated user behind the connection; empty for
	// anonymous spectators.
	BidderID() string
	Send(ev Event) error
}

// Broadcaster fans events out to every subscriber of one auction. Delivery is
// best-effort per connection: a subscriber whose Send fails is dropped so it can
// never stall the rest.
type Broadcaster struct {
	auctionID string
	logger    zerolog.Logger

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// New builds an empty broadcaster for one auction.
func New(auctionID string, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		auctionID: auctionID,
		logger:    logger.With().Str("component", "broadcaster").Str("auction_id", auctionID).Logger(),
		subs:      make(map[string]Subscriber),
	}
}

// Subscribe registers a connection. The snapshot handshake is the session's job;
// it calls Subscribe under the arbiter lock so no event can slip in between.
func (b *Broadcaster) Subscribe(sub Subscriber) {
	b.mu.Lock()
	b.subs[sub.ID()] = sub
	b.mu.Unlock()
}

// Unsubscribe removes a connection. Idempotent: unknown ids are a no-op.
func (b *Broadcaster) Unsubscribe(connID string) {
	b.mu.Lock()
	delete(b.subs, connID)
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber. Failed subscribers are dropped.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(ev); err != nil {
			b.logger.Warn().Err(err).Str("conn_id", sub.ID()).Str("event", ev.EventType()).
				Msg("dropping unresponsive subscriber")
			b.Unsubscribe(sub.ID())
		}
	}
}

// SendTo delivers ev privately to every connection of one bidder.
func (b *Broadcaster) SendTo(bidderID string, ev Event) {
	b.mu.RLock()
	targets := make([]Subscriber, 0, 1)
	for _, sub := range b.subs {
		if sub.BidderID() == bidderID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(ev); err != nil {
			b.logger.Warn().Err(err).Str("conn_id", sub.ID()).Str("event", ev.EventType()).
				Msg("dropping unresponsive subscriber")
			b.Unsubscribe(sub.ID())
		}
	}
}

// Count returns the number of live connections.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
