package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/broadcast"
	"bidding-engine/internal/instrumentation"
)

// Arbiter is the single-writer serialization point for one auction. Every bid is
// evaluated under one mutex against the ledger's current state, so two concurrent
// submissions can never both clear the same minimum. The critical section does no
// I/O: publishing only enqueues onto per-connection buffers and the accept hook is
// a non-blocking channel send.
type Arbiter struct {
	cfg     auction.Config
	policy  auction.LeaderPolicy
	caster  *broadcast.Broadcaster
	logger  zerolog.Logger
	metrics *instrumentation.Metrics

	historyLimit int

	// onAccept and onViolation must not block; the session wires them.
	onAccept    func(auction.Bid)
	onViolation func(auction.Bid, error)

	mu     sync.Mutex
	ledger *auction.Ledger
	closed bool
}

// ArbiterOptions collects the arbiter's collaborators.
type ArbiterOptions struct {
	Policy       auction.LeaderPolicy
	HistoryLimit int
	Metrics      *instrumentation.Metrics
	OnAccept     func(auction.Bid)
	OnViolation  func(auction.Bid, error)
}

// NewArbiter builds the arbiter for one auction session.
func NewArbiter(cfg auction.Config, caster *broadcast.Broadcaster, opts ArbiterOptions, logger zerolog.Logger) *Arbiter {
	policy := opts.Policy
	if policy == "" {
		policy = auction.AllowSelfRaise
	}
	return &Arbiter{
		cfg:          cfg,
		policy:       policy,
		caster:       caster,
		logger:       logger.With().Str("component", "arbiter").Str("auction_id", cfg.ID).Logger(),
		metrics:      opts.Metrics,
		historyLimit: opts.HistoryLimit,
		onAccept:     opts.OnAccept,
		onViolation:  opts.OnViolation,
		ledger:       auction.NewLedger(cfg),
	}
}

// PlaceBid runs the full acceptance sequence for one bid and returns the accepted
// bid (sequence assigned) or the rejection. Rejections are synchronous, never
// retried, and mutate nothing.
func (a *Arbiter) PlaceBid(bidderID, bidderName string, amount decimal.Decimal, now time.Time) (auction.Bid, error) {
	started := time.Now()
	a.mu.Lock()
	defer func() {
		a.mu.Unlock()
		a.metrics.ObserveBidLatency(time.Since(started).Seconds())
	}()

	if a.closed || !auction.BiddingOpen(a.cfg, now) {
		return auction.Bid{}, a.reject(auction.ErrAuctionClosed)
	}
	if bidderID == a.cfg.SellerID {
		return auction.Bid{}, a.reject(auction.ErrSellerCannotBid)
	}
	minimum := a.ledger.MinimumNextBid()
	if amount.LessThan(minimum) {
		return auction.Bid{}, a.reject(&auction.BidTooLowError{Minimum: minimum})
	}
	if a.policy == auction.RejectSelfRaise {
		if leader, ok := a.ledger.CurrentBid(); ok && leader.BidderID == bidderID {
			return auction.Bid{}, a.reject(auction.ErrAlreadyHighestBidder)
		}
	}

	bid := auction.Bid{
		AuctionID:  a.cfg.ID,
		BidderID:   bidderID,
		BidderName: bidderName,
		Amount:     amount,
		PlacedAt:   now,
	}
	seq, err := a.ledger.Append(bid)
	if err != nil {
		// The arbiter just validated this amount, so a failure here means the
		// single-writer invariant was broken somewhere. Operator-visible.
		a.logger.Error().Err(err).Str("bidder_id", bidderID).Str("amount", amount.String()).
			Msg("ledger rejected a validated bid")
		a.metrics.RecordLedgerViolation()
		if a.onViolation != nil {
			a.onViolation(bid, err)
		}
		return auction.Bid{}, a.reject(err)
	}
	bid.Sequence = seq

	a.caster.Publish(broadcast.BidPlaced{
		Type:          broadcast.TypeBidPlaced,
		AuctionID:     a.cfg.ID,
		NewCurrentBid: bid.Amount,
		BidderID:      bid.BidderID,
		Sequence:      bid.Sequence,
		Timestamp:     bid.PlacedAt,
	})
	if a.onAccept != nil {
		a.onAccept(bid)
	}
	a.metrics.RecordAcceptance()
	return bid, nil
}

func (a *Arbiter) reject(err error) error {
	a.metrics.RecordRejection(rejectLabel(err))
	return err
}

// Subscribe registers sub and hands it the AUCTION_STATE snapshot under the same
// lock that guards appends, so the snapshot can neither miss a bid nor duplicate
// one against later BID_PLACED events.
func (a *Arbiter) Subscribe(sub broadcast.Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.ledger.Snapshot(a.cfg.ID, a.historyLimit)
	a.caster.Subscribe(sub)
	if err := sub.Send(broadcast.NewAuctionState(snap)); err != nil {
		a.caster.Unsubscribe(sub.ID())
	}
}

// Unsubscribe removes a connection; safe to call from transport goroutines.
func (a *Arbiter) Unsubscribe(connID string) {
	a.caster.Unsubscribe(connID)
}

// Snapshot returns a consistent read-only view of the ledger.
func (a *Arbiter) Snapshot() auction.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Snapshot(a.cfg.ID, a.historyLimit)
}

// Closed reports whether the one-way OPEN -> CLOSED transition has happened.
func (a *Arbiter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close performs the terminal transition, freezes the ledger, and publishes the
// terminal event. Only the first caller wins: it gets transitioned=true and the
// final snapshot; later callers get transitioned=false and mutate nothing. This is
// what makes the end-timer/explicit-cancel race idempotent.
func (a *Arbiter) Close(cancelled bool, reason string) (auction.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return auction.Snapshot{}, false
	}
	a.closed = true
	a.ledger.Freeze()
	snap := a.ledger.Snapshot(a.cfg.ID, a.historyLimit)

	if cancelled {
		a.caster.Publish(broadcast.AuctionCancelled{
			Type:      broadcast.TypeAuctionCancelled,
			AuctionID: a.cfg.ID,
			Reason:    reason,
		})
	} else {
		ended := broadcast.AuctionEnded{
			Type:      broadcast.TypeAuctionEnded,
			AuctionID: a.cfg.ID,
		}
		if snap.CurrentBid != nil {
			amount := snap.CurrentBid.Amount
			ended.WinnerID = snap.CurrentBid.BidderID
			ended.FinalBid = &amount
			ended.ReserveMet = !a.cfg.ReservePrice.IsPositive() || amount.GreaterThanOrEqual(a.cfg.ReservePrice)
		}
		a.caster.Publish(ended)
	}
	return snap, true
}

func rejectLabel(err error) string {
	switch {
	case err == auction.ErrAuctionClosed:
		return "auction_closed"
	case err == auction.ErrSellerCannotBid:
		return "seller_cannot_bid"
	case err == auction.ErrAlreadyHighestBidder:
		return "already_highest_bidder"
	case err == auction.ErrOutOfOrderBid || err == auction.ErrLedgerFrozen:
		return "internal"
	default:
		return "bid_too_low"
	}
}
