package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/broadcast"
)

type recordingSub struct {
	id       string
	bidderID string

	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recordingSub) ID() string       { return r.id }
func (r *recordingSub) BidderID() string { return r.bidderID }

func (r *recordingSub) Send(ev broadcast.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSub) received() []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.Event, len(r.events))
	copy(out, r.events)
	return out
}

func testAuctionConfig(now time.Time) auction.Config {
	return auction.Config{
		ID:            "a-1",
		ItemID:        "item-1",
		SellerID:      "seller-1",
		StartingPrice: decimal.NewFromInt(100),
		Increment:     decimal.NewFromInt(10),
		StartTime:     now.Add(-time.Minute),
		EndTime:       now.Add(time.Hour),
		Status:        auction.StatusOngoing,
	}
}

func testArbiter(t *testing.T, opts ArbiterOptions) (*Arbiter, *broadcast.Broadcaster, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	caster := broadcast.New("a-1", zerolog.Nop())
	return NewArbiter(testAuctionConfig(now), caster, opts, zerolog.Nop()), caster, now
}

func TestPlaceBidSequence(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})

	// First bid may equal the starting price exactly.
	bid, err := a.PlaceBid("alice", "Alice", decimal.NewFromInt(100), now)
	if err != nil {
		t.Fatalf("bid at starting price should be accepted: %v", err)
	}
	if bid.Sequence != 1 {
		t.Fatalf("first accepted bid should carry sequence 1, got %d", bid.Sequence)
	}

	// 105 does not clear 100 + 10.
	_, err = a.PlaceBid("bob", "Bob", decimal.NewFromInt(105), now)
	var tooLow *auction.BidTooLowError
	if !errors.As(err, &tooLow) {
		t.Fatalf("expected BidTooLowError, got %v", err)
	}
	if !tooLow.Minimum.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("rejection should carry minimum 110, got %s", tooLow.Minimum)
	}

	bid, err = a.PlaceBid("carol", "Carol", decimal.NewFromInt(110), now)
	if err != nil {
		t.Fatalf("bid meeting the minimum should be accepted: %v", err)
	}
	if bid.Sequence != 2 {
		t.Fatalf("second accepted bid should carry sequence 2, got %d", bid.Sequence)
	}

	// The same amount again lost the race against carol.
	_, err = a.PlaceBid("dave", "Dave", decimal.NewFromInt(110), now)
	if !errors.As(err, &tooLow) {
		t.Fatalf("expected BidTooLowError, got %v", err)
	}
	if !tooLow.Minimum.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("rejection should carry minimum 120, got %s", tooLow.Minimum)
	}
}

func TestPlaceBidConcurrentBorderline(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})

	// Everyone bids the exact opening minimum at once; only one can win.
	const bidders = 16
	var wg sync.WaitGroup
	var accepted, rejected int64
	var mu sync.Mutex
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := a.PlaceBid("user-"+string(rune('a'+n)), "", decimal.NewFromInt(100), now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("exactly one borderline bid should win, got %d", accepted)
	}
	if rejected != bidders-1 {
		t.Fatalf("the rest should be rejected, got %d", rejected)
	}

	snap := a.Snapshot()
	if snap.TotalBids != 1 || snap.CurrentBid == nil || snap.CurrentBid.Sequence != 1 {
		t.Fatalf("ledger should hold a single sequence-1 bid, got %+v", snap)
	}
}

func TestPlaceBidSellerRejected(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})

	if _, err := a.PlaceBid("seller-1", "", decimal.NewFromInt(100), now); !errors.Is(err, auction.ErrSellerCannotBid) {
		t.Fatalf("expected ErrSellerCannotBid, got %v", err)
	}
}

func TestPlaceBidOutsideWindow(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})

	_, err := a.PlaceBid("alice", "", decimal.NewFromInt(100), now.Add(2*time.Hour))
	if !errors.Is(err, auction.ErrAuctionClosed) {
		t.Fatalf("bids after the end time should get ErrAuctionClosed, got %v", err)
	}
}

func TestPlaceBidAfterClose(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})

	if _, transitioned := a.Close(false, ""); !transitioned {
		t.Fatal("first close should transition")
	}
	if _, err := a.PlaceBid("alice", "", decimal.NewFromInt(100), now); !errors.Is(err, auction.ErrAuctionClosed) {
		t.Fatalf("closed arbiter should reject with ErrAuctionClosed, got %v", err)
	}
}

func TestSelfRaisePolicies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	allow := NewArbiter(testAuctionConfig(now), broadcast.New("a-1", zerolog.Nop()), ArbiterOptions{Policy: auction.AllowSelfRaise}, zerolog.Nop())
	if _, err := allow.PlaceBid("alice", "", decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if _, err := allow.PlaceBid("alice", "", decimal.NewFromInt(110), now); err != nil {
		t.Fatalf("allow-self-raise should accept the leader raising: %v", err)
	}

	reject := NewArbiter(testAuctionConfig(now), broadcast.New("a-1", zerolog.Nop()), ArbiterOptions{Policy: auction.RejectSelfRaise}, zerolog.Nop())
	if _, err := reject.PlaceBid("alice", "", decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if _, err := reject.PlaceBid("alice", "", decimal.NewFromInt(110), now); !errors.Is(err, auction.ErrAlreadyHighestBidder) {
		t.Fatalf("reject-self-raise should refuse the leader, got %v", err)
	}
	// Another bidder is unaffected.
	if _, err := reject.PlaceBid("bob", "", decimal.NewFromInt(110), now); err != nil {
		t.Fatalf("a different bidder should be accepted: %v", err)
	}
}

func TestAcceptedBidBroadcast(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})
	sub := &recordingSub{id: "c-1", bidderID: "watcher"}
	a.Subscribe(sub)

	if _, err := a.PlaceBid("alice", "Alice", decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("bid: %v", err)
	}

	events := sub.received()
	if len(events) != 2 {
		t.Fatalf("subscriber should see the snapshot then the bid, got %d events", len(events))
	}
	state, ok := events[0].(broadcast.AuctionState)
	if !ok {
		t.Fatalf("first event should be the state snapshot, got %T", events[0])
	}
	if state.CurrentBid != nil {
		t.Fatal("snapshot before any bid should have no current bid")
	}
	placed, ok := events[1].(broadcast.BidPlaced)
	if !ok {
		t.Fatalf("second event should be the public bid broadcast, got %T", events[1])
	}
	if placed.BidderID != "alice" || !placed.NewCurrentBid.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected broadcast payload: %+v", placed)
	}
}

func TestRejectedBidNotBroadcast(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})
	sub := &recordingSub{id: "c-1", bidderID: "watcher"}
	a.Subscribe(sub)

	if _, err := a.PlaceBid("alice", "", decimal.NewFromInt(50), now); err == nil {
		t.Fatal("low bid should be rejected")
	}

	if events := sub.received(); len(events) != 1 {
		t.Fatalf("rejections are private; subscribers should only hold the snapshot, got %d events", len(events))
	}
}

func TestLateJoinerSnapshotHasNoGap(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{HistoryLimit: 50})

	for i, amount := range []int64{100, 110, 120} {
		if _, err := a.PlaceBid("user", "", decimal.NewFromInt(amount), now); err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
	}

	late := &recordingSub{id: "c-late", bidderID: "latecomer"}
	a.Subscribe(late)
	if _, err := a.PlaceBid("user", "", decimal.NewFromInt(130), now); err != nil {
		t.Fatalf("bid after subscribe: %v", err)
	}

	events := late.received()
	state, ok := events[0].(broadcast.AuctionState)
	if !ok {
		t.Fatalf("first event should be the snapshot, got %T", events[0])
	}
	if len(state.BidHistory) != 3 || state.CurrentBid == nil || state.CurrentBid.Sequence != 3 {
		t.Fatalf("snapshot should hold exactly the three pre-join bids, got %+v", state)
	}
	placed, ok := events[1].(broadcast.BidPlaced)
	if !ok || placed.Sequence != 4 {
		t.Fatalf("the only live event should be sequence 4, got %+v", events[1])
	}
}

func TestCloseIdempotent(t *testing.T) {
	a, _, now := testArbiter(t, ArbiterOptions{})
	sub := &recordingSub{id: "c-1", bidderID: "watcher"}
	a.Subscribe(sub)

	if _, err := a.PlaceBid("alice", "", decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("bid: %v", err)
	}

	snap, transitioned := a.Close(false, "")
	if !transitioned {
		t.Fatal("first close should win the transition")
	}
	if snap.CurrentBid == nil || snap.CurrentBid.BidderID != "alice" {
		t.Fatalf("close should return the final snapshot, got %+v", snap)
	}

	if _, transitioned := a.Close(true, "late cancel"); transitioned {
		t.Fatal("second close must be a no-op")
	}

	terminal := 0
	for _, ev := range sub.received() {
		switch ev.(type) {
		case broadcast.AuctionEnded, broadcast.AuctionCancelled:
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("subscribers should see exactly one terminal event, got %d", terminal)
	}
}

func TestCloseReserveAndWinner(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testAuctionConfig(now)
	cfg.ReservePrice = decimal.NewFromInt(150)

	sub := &recordingSub{id: "c-1", bidderID: "watcher"}
	caster := broadcast.New("a-1", zerolog.Nop())
	a := NewArbiter(cfg, caster, ArbiterOptions{}, zerolog.Nop())
	a.Subscribe(sub)

	if _, err := a.PlaceBid("alice", "", decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("bid: %v", err)
	}
	a.Close(false, "")

	events := sub.received()
	ended, ok := events[len(events)-1].(broadcast.AuctionEnded)
	if !ok {
		t.Fatalf("last event should be AUCTION_ENDED, got %T", events[len(events)-1])
	}
	if ended.WinnerID != "alice" || ended.FinalBid == nil || !ended.FinalBid.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected terminal payload: %+v", ended)
	}
	if ended.ReserveMet {
		t.Fatal("100 does not meet a 150 reserve")
	}
}

func TestCancelBroadcastsReason(t *testing.T) {
	a, _, _ := testArbiter(t, ArbiterOptions{})
	sub := &recordingSub{id: "c-1", bidderID: "watcher"}
	a.Subscribe(sub)

	a.Close(true, "seller withdrew the item")

	events := sub.received()
	cancelled, ok := events[len(events)-1].(broadcast.AuctionCancelled)
	if !ok {
		t.Fatalf("last event should be AUCTION_CANCELLED, got %T", events[len(events)-1])
	}
	if cancelled.Reason != "seller withdrew the item" {
		t.Fatalf("unexpected reason: %q", cancelled.Reason)
	}
}
