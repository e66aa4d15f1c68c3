package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/broadcast"
)

// Result is the settled outcome of one auction, handed to the store, the cache,
// and the completion publisher at teardown.
type Result struct {
	AuctionID  string           `json:"auctionId"`
	WinnerID   string           `json:"winnerId,omitempty"`
	FinalBid   *decimal.Decimal `json:"winningBidAmount,omitempty"`
	ReserveMet bool             `json:"reserveMet"`
	Cancelled  bool             `json:"cancelled"`
	Reason     string           `json:"reason,omitempty"`
	EndedAt    time.Time        `json:"endedAt"`
}

// BidStore persists accepted bids and final results. All writes happen on the
// session's recorder goroutine, never inside the bid critical section.
type BidStore interface {
	InsertBid(ctx context.Context, bid auction.Bid) error
	RecordResult(ctx context.Context, res Result) error
}

// SnapshotCache keeps the latest public snapshot readable after teardown.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, snap auction.Snapshot) error
}

// CompletionPublisher tells the surrounding marketplace an auction finished.
type CompletionPublisher interface {
	PublishCompleted(ctx context.Context, res Result) error
}

// Session is the live runtime unit for one ongoing auction: config snapshot,
// arbiter, broadcaster, end timer, and the write-behind recorder.
type Session struct {
	cfg     auction.Config
	arbiter *Arbiter
	caster  *broadcast.Broadcaster
	logger  zerolog.Logger

	endTimer *time.Timer

	recordCh     chan auction.Bid
	recorderDone chan struct{}
	closeRecord  sync.Once

	store BidStore
	cache SnapshotCache
}

// Config returns the immutable auction configuration snapshot.
func (s *Session) Config() auction.Config {
	return s.cfg
}

// PlaceBid forwards to the arbiter with the current wall clock.
func (s *Session) PlaceBid(bidderID, bidderName string, amount decimal.Decimal) (auction.Bid, error) {
	return s.arbiter.PlaceBid(bidderID, bidderName, amount, time.Now())
}

// Subscribe attaches a live connection and delivers its state snapshot.
func (s *Session) Subscribe(sub broadcast.Subscriber) {
	s.arbiter.Subscribe(sub)
}

// Unsubscribe detaches a connection; idempotent.
func (s *Session) Unsubscribe(connID string) {
	s.arbiter.Unsubscribe(connID)
}

// SendTo delivers a private event to one bidder's connections.
func (s *Session) SendTo(bidderID string, ev broadcast.Event) {
	s.caster.SendTo(bidderID, ev)
}

// Snapshot returns a consistent view of the ledger.
func (s *Session) Snapshot() auction.Snapshot {
	return s.arbiter.Snapshot()
}

// Closed reports whether the session has reached its terminal state.
func (s *Session) Closed() bool {
	return s.arbiter.Closed()
}

// SubscriberCount returns the number of live connections.
func (s *Session) SubscriberCount() int {
	return s.caster.Count()
}

// enqueueRecord hands an accepted bid to the recorder without ever blocking the
// critical section. A full queue costs the write-behind copy, not the bid.
func (s *Session) enqueueRecord(bid auction.Bid) {
	select {
	case s.recordCh <- bid:
	default:
		s.logger.Warn().Int64("sequence", bid.Sequence).
			Msg("record queue full; accepted bid not persisted")
	}
}

// recorder drains accepted bids into the store and refreshes the snapshot cache.
// It exits when the session closes the record channel at teardown.
func (s *Session) recorder() {
	defer close(s.recorderDone)
	for bid := range s.recordCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if s.store != nil {
			if err := s.store.InsertBid(ctx, bid); err != nil {
				s.logger.Error().Err(err).Int64("sequence", bid.Sequence).Msg("failed to persist bid")
			}
		}
		if s.cache != nil {
			if err := s.cache.SetSnapshot(ctx, s.arbiter.Snapshot()); err != nil {
				s.logger.Warn().Err(err).Msg("failed to refresh snapshot cache")
			}
		}
		cancel()
	}
}

// stopRecorder closes the record channel exactly once and waits for the drain.
// Callers must guarantee no further enqueues; the arbiter's CLOSED state does.
func (s *Session) stopRecorder() {
	s.closeRecord.Do(func() { close(s.recordCh) })
	<-s.recorderDone
}
