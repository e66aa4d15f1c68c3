package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/broadcast"
)

type fakeStore struct {
	mu      sync.Mutex
	bids    []auction.Bid
	results []Result
}

func (f *fakeStore) InsertBid(_ context.Context, bid auction.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, bid)
	return nil
}

func (f *fakeStore) RecordResult(_ context.Context, res Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	last *auction.Snapshot
}

func (f *fakeCache) SetSnapshot(_ context.Context, snap auction.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &snap
	return nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published []Result
}

func (f *fakeProducer) PublishCompleted(_ context.Context, res Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, res)
	return nil
}

func registryConfig(id string, now time.Time) auction.Config {
	return auction.Config{
		ID:            id,
		SellerID:      "seller-1",
		StartingPrice: decimal.NewFromInt(100),
		Increment:     decimal.NewFromInt(10),
		StartTime:     now.Add(-time.Minute),
		EndTime:       now.Add(time.Hour),
		Status:        auction.StatusOngoing,
	}
}

func TestStartSessionDuplicate(t *testing.T) {
	reg := NewRegistry(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	cfg := registryConfig("a-1", time.Now())

	if _, err := reg.StartSession(cfg); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := reg.StartSession(cfg); !errors.Is(err, auction.ErrAlreadyActive) {
		t.Fatalf("duplicate start should get ErrAlreadyActive, got %v", err)
	}
	if reg.ActiveSessions() != 1 {
		t.Fatalf("duplicate start must not register a second session, got %d", reg.ActiveSessions())
	}
}

func TestStartSessionPastEnd(t *testing.T) {
	reg := NewRegistry(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	cfg := registryConfig("a-1", time.Now())
	cfg.StartTime = time.Now().Add(-2 * time.Hour)
	cfg.EndTime = time.Now().Add(-time.Hour)

	if _, err := reg.StartSession(cfg); !errors.Is(err, auction.ErrAuctionClosed) {
		t.Fatalf("past end time should get ErrAuctionClosed, got %v", err)
	}
}

func TestStartSessionInvalidConfig(t *testing.T) {
	reg := NewRegistry(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	cfg := registryConfig("a-1", time.Now())
	cfg.Increment = decimal.Zero

	if _, err := reg.StartSession(cfg); err == nil {
		t.Fatal("zero increment should be rejected")
	}
}

func TestSessionLookup(t *testing.T) {
	reg := NewRegistry(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())

	if _, err := reg.Session("missing"); !errors.Is(err, auction.ErrNotFound) {
		t.Fatalf("unknown id should get ErrNotFound, got %v", err)
	}

	if _, err := reg.StartSession(registryConfig("a-1", time.Now())); err != nil {
		t.Fatalf("start: %v", err)
	}
	s, err := reg.Session("a-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if s.Config().ID != "a-1" {
		t.Fatalf("wrong session returned: %s", s.Config().ID)
	}
}

func TestCompleteSessionTeardown(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{}
	producer := &fakeProducer{}
	reg := NewRegistry(Options{}, store, cache, producer, nil, nil, zerolog.Nop())

	s, err := reg.StartSession(registryConfig("a-1", time.Now()))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.PlaceBid("alice", "Alice", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	if err := reg.CompleteSession(context.Background(), "a-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := reg.Session("a-1"); !errors.Is(err, auction.ErrNotFound) {
		t.Fatal("completed session should be removed from the registry")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.bids) != 1 {
		t.Fatalf("the accepted bid should be persisted, got %d", len(store.bids))
	}
	if len(store.results) != 1 || store.results[0].WinnerID != "alice" {
		t.Fatalf("the result should name the winner, got %+v", store.results)
	}
	if store.results[0].FinalBid == nil || !store.results[0].FinalBid.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("the result should carry the final amount, got %+v", store.results[0])
	}

	producer.mu.Lock()
	defer producer.mu.Unlock()
	if len(producer.published) != 1 {
		t.Fatalf("completion should be published once, got %d", len(producer.published))
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.last == nil || cache.last.TotalBids != 1 {
		t.Fatalf("the final snapshot should be cached, got %+v", cache.last)
	}
}

func TestCancelSessionSkipsCompletionPublish(t *testing.T) {
	store := &fakeStore{}
	producer := &fakeProducer{}
	reg := NewRegistry(Options{}, store, nil, producer, nil, nil, zerolog.Nop())

	if _, err := reg.StartSession(registryConfig("a-1", time.Now())); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.CancelSession(context.Background(), "a-1", "item withdrawn"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	producer.mu.Lock()
	published := len(producer.published)
	producer.mu.Unlock()
	if published != 0 {
		t.Fatal("cancellations must not publish a completion event")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.results) != 1 || !store.results[0].Cancelled || store.results[0].Reason != "item withdrawn" {
		t.Fatalf("the cancelled result should still be recorded, got %+v", store.results)
	}
}

func TestEndSessionUnknownID(t *testing.T) {
	reg := NewRegistry(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	if err := reg.CompleteSession(context.Background(), "missing"); !errors.Is(err, auction.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEndSessionRaceLoserIsNoOp(t *testing.T) {
	store := &fakeStore{}
	reg := NewRegistry(Options{}, store, nil, nil, nil, nil, zerolog.Nop())

	s, err := reg.StartSession(registryConfig("a-1", time.Now()))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	sub := &recordingSub{id: "c-1", bidderID: "watcher"}
	s.Subscribe(sub)

	// Simulate the end timer winning the transition just before an explicit
	// cancellation lands.
	s.arbiter.Close(false, "")
	if err := reg.CancelSession(context.Background(), "a-1", "too late"); err != nil {
		t.Fatalf("losing cancel should be a silent no-op, got %v", err)
	}

	terminal := 0
	for _, ev := range sub.received() {
		switch ev.(type) {
		case broadcast.AuctionEnded, broadcast.AuctionCancelled:
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("the race must produce exactly one terminal event, got %d", terminal)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.results) != 0 {
		t.Fatal("the losing teardown must not record a result")
	}
}

func TestCancelConcurrentWithStart(t *testing.T) {
	reg := NewRegistry(Options{}, nil, nil, nil, nil, nil, zerolog.Nop())

	// A cancellation may land the instant the session becomes visible; it must
	// tear the session down cleanly, never observe it half-built.
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("a-%d", i)
		cfg := registryConfig(id, time.Now())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := reg.StartSession(cfg); err != nil {
				t.Errorf("start %s: %v", id, err)
			}
		}()
		go func() {
			defer wg.Done()
			for {
				err := reg.CancelSession(context.Background(), id, "closing")
				if err == nil {
					return
				}
				if !errors.Is(err, auction.ErrNotFound) {
					t.Errorf("cancel %s: %v", id, err)
					return
				}
			}
		}()
		wg.Wait()
	}

	if reg.ActiveSessions() != 0 {
		t.Fatalf("every session should be cancelled, got %d", reg.ActiveSessions())
	}
}

func TestEndTimerCompletesSession(t *testing.T) {
	producer := &fakeProducer{}
	reg := NewRegistry(Options{}, nil, nil, producer, nil, nil, zerolog.Nop())

	cfg := registryConfig("a-1", time.Now())
	cfg.EndTime = time.Now().Add(50 * time.Millisecond)
	if _, err := reg.StartSession(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := reg.Session("a-1"); errors.Is(err, auction.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("the end timer should tear the session down")
		}
		time.Sleep(10 * time.Millisecond)
	}

	producer.mu.Lock()
	defer producer.mu.Unlock()
	if len(producer.published) != 1 {
		t.Fatalf("a natural end should publish completion once, got %d", len(producer.published))
	}
}

func TestRecorderPersistsAcceptedBids(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{}
	reg := NewRegistry(Options{}, store, cache, nil, nil, nil, zerolog.Nop())

	s, err := reg.StartSession(registryConfig("a-1", time.Now()))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, amount := range []int64{100, 110, 120} {
		if _, err := s.PlaceBid("alice", "", decimal.NewFromInt(amount)); err != nil {
			t.Fatalf("bid %d: %v", amount, err)
		}
	}

	// Teardown drains the recorder, so everything is persisted after this.
	if err := reg.CompleteSession(context.Background(), "a-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.bids) != 3 {
		t.Fatalf("all accepted bids should be persisted, got %d", len(store.bids))
	}
	for i, bid := range store.bids {
		if bid.Sequence != int64(i+1) {
			t.Fatalf("bids should be persisted in ledger order, got %+v", store.bids)
		}
	}
}
