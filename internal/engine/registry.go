package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bidding-engine/internal/alerting"
	"bidding-engine/internal/auction"
	"bidding-engine/internal/broadcast"
	"bidding-engine/internal/instrumentation"
)

const (
	defaultHistoryLimit = 50
	defaultRecordBuffer = 256
)

// Options tune registry-wide session behaviour.
type Options struct {
	// LeaderPolicy controls whether the current leader may raise their own bid.
	LeaderPolicy auction.LeaderPolicy
	// HistoryLimit bounds the bid history carried in snapshots and state events.
	HistoryLimit int
	// RecordBuffer sizes each session's write-behind queue.
	RecordBuffer int
}

// Registry owns the process-wide map of live auction sessions. It is the only
// holder of session references; teardown removes the session so nothing can
// broadcast into a dead auction.
type Registry struct {
	opts     Options
	store    BidStore
	cache    SnapshotCache
	producer CompletionPublisher
	alerts   alerting.Notifier
	metrics  *instrumentation.Metrics
	logger   zerolog.Logger

	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry wires the registry. store, cache, producer, alerts, and metrics may
// each be nil; the corresponding concern is then skipped.
func NewRegistry(opts Options, store BidStore, cache SnapshotCache, producer CompletionPublisher, alerts alerting.Notifier, metrics *instrumentation.Metrics, logger zerolog.Logger) *Registry {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.RecordBuffer <= 0 {
		opts.RecordBuffer = defaultRecordBuffer
	}
	if opts.LeaderPolicy == "" {
		opts.LeaderPolicy = auction.AllowSelfRaise
	}
	return &Registry{
		opts:     opts,
		store:    store,
		cache:    cache,
		producer: producer,
		alerts:   alerts,
		metrics:  metrics,
		logger:   logger.With().Str("component", "registry").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// StartSession creates the session for an auction entering its ONGOING phase and
// arms the end timer. Fails with ErrAlreadyActive for a duplicate id.
func (r *Registry) StartSession(cfg auction.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// The status transition is what triggered us; the snapshot we keep is live.
	cfg.Status = auction.StatusOngoing

	now := r.now()
	if !now.Before(cfg.EndTime) {
		return nil, fmt.Errorf("auction %s: %w", cfg.ID, auction.ErrAuctionClosed)
	}

	logger := r.logger.With().Str("auction_id", cfg.ID).Logger()
	caster := broadcast.New(cfg.ID, logger)

	s := &Session{
		cfg:          cfg,
		caster:       caster,
		logger:       logger,
		recordCh:     make(chan auction.Bid, r.opts.RecordBuffer),
		recorderDone: make(chan struct{}),
		store:        r.store,
		cache:        r.cache,
	}
	s.arbiter = NewArbiter(cfg, caster, ArbiterOptions{
		Policy:       r.opts.LeaderPolicy,
		HistoryLimit: r.opts.HistoryLimit,
		Metrics:      r.metrics,
		OnAccept:     s.enqueueRecord,
		OnViolation:  r.violationHook(cfg.ID),
	}, logger)

	r.mu.Lock()
	if _, exists := r.sessions[cfg.ID]; exists {
		r.mu.Unlock()
		return nil, auction.ErrAlreadyActive
	}
	r.sessions[cfg.ID] = s
	// Armed under the registry lock: a teardown that finds the session in the map
	// is guaranteed to see the timer too.
	s.endTimer = time.AfterFunc(auction.TimeRemaining(cfg, now), func() {
		if err := r.CompleteSession(context.Background(), cfg.ID); err != nil && err != auction.ErrNotFound {
			logger.Error().Err(err).Msg("end timer failed to complete session")
		}
	})
	r.mu.Unlock()

	go s.recorder()

	r.metrics.AddSessions(1)
	logger.Info().Time("end_time", cfg.EndTime).
		Str("starting_price", cfg.StartingPrice.String()).
		Str("increment", cfg.Increment.String()).
		Msg("auction session started")
	return s, nil
}

// Session looks up a live session by auction id.
func (r *Registry) Session(auctionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[auctionID]
	if !ok {
		return nil, auction.ErrNotFound
	}
	return s, nil
}

// ActiveSessions returns the number of live sessions.
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CompleteSession ends an auction naturally: terminal AUCTION_ENDED broadcast,
// result persistence, completion publish, teardown.
func (r *Registry) CompleteSession(ctx context.Context, auctionID string) error {
	return r.endSession(ctx, auctionID, false, "")
}

// CancelSession ends an auction on an explicit cancellation request.
func (r *Registry) CancelSession(ctx context.Context, auctionID, reason string) error {
	return r.endSession(ctx, auctionID, true, reason)
}

// endSession is idempotent against the timer/cancel race: the arbiter's one-way
// transition picks a single winner; the loser returns nil without re-broadcasting.
func (r *Registry) endSession(ctx context.Context, auctionID string, cancelled bool, reason string) error {
	r.mu.RLock()
	s, ok := r.sessions[auctionID]
	var endTimer *time.Timer
	if ok {
		endTimer = s.endTimer
	}
	r.mu.RUnlock()
	if !ok {
		return auction.ErrNotFound
	}

	snap, transitioned := s.arbiter.Close(cancelled, reason)
	if !transitioned {
		return nil
	}
	endTimer.Stop()

	// The terminal event is already queued on every connection; subscribers are
	// not force-closed so delivery can complete.
	s.stopRecorder()

	res := Result{
		AuctionID: auctionID,
		Cancelled: cancelled,
		Reason:    reason,
		EndedAt:   r.now(),
	}
	if snap.CurrentBid != nil {
		amount := snap.CurrentBid.Amount
		res.WinnerID = snap.CurrentBid.BidderID
		res.FinalBid = &amount
		res.ReserveMet = !s.cfg.ReservePrice.IsPositive() || amount.GreaterThanOrEqual(s.cfg.ReservePrice)
	}

	if r.cache != nil {
		if err := r.cache.SetSnapshot(ctx, snap); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache final snapshot")
		}
	}
	if r.store != nil {
		if err := r.store.RecordResult(ctx, res); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist auction result")
		}
	}
	if r.producer != nil && !cancelled {
		if err := r.producer.PublishCompleted(ctx, res); err != nil {
			s.logger.Error().Err(err).Msg("failed to publish completion event")
		}
	}

	r.mu.Lock()
	delete(r.sessions, auctionID)
	r.mu.Unlock()
	r.metrics.AddSessions(-1)

	s.logger.Info().Bool("cancelled", cancelled).Str("winner_id", res.WinnerID).
		Int("total_bids", snap.TotalBids).Msg("auction session ended")
	return nil
}

// violationHook raises the operator alert for a ledger invariant breach. The hook
// runs inside the critical section, so the notification itself is pushed onto a
// goroutine.
func (r *Registry) violationHook(auctionID string) func(auction.Bid, error) {
	return func(bid auction.Bid, err error) {
		if r.alerts == nil {
			return
		}
		al := alerting.Alert{
			Subject:   "ledger invariant violation",
			AuctionID: auctionID,
			Detail:    fmt.Sprintf("append rejected for bidder %s amount %s: %v", bid.BidderID, bid.Amount.String(), err),
			At:        r.now(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if nerr := r.alerts.Notify(ctx, al); nerr != nil {
				r.logger.Error().Err(nerr).Str("auction_id", auctionID).Msg("failed to dispatch violation alert")
			}
		}()
	}
}
