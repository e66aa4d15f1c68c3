package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/engine"
)

type fakeDirectory struct {
	configs []auction.Config
	err     error
}

func (f *fakeDirectory) FetchConfig(_ context.Context, auctionID string) (auction.Config, error) {
	for _, cfg := range f.configs {
		if cfg.ID == auctionID {
			return cfg, nil
		}
	}
	return auction.Config{}, auction.ErrNotFound
}

func (f *fakeDirectory) ListOngoing(context.Context) ([]auction.Config, error) {
	return f.configs, f.err
}

func ongoingConfig(id string, now time.Time) auction.Config {
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

func TestReconcileStartsMissingSessions(t *testing.T) {
	now := time.Now()
	registry := engine.NewRegistry(engine.Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	dir := &fakeDirectory{configs: []auction.Config{
		ongoingConfig("a-1", now),
		ongoingConfig("a-2", now),
	}}
	r := New(nil, dir, registry, zerolog.Nop())

	if err := r.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if registry.ActiveSessions() != 2 {
		t.Fatalf("both ongoing auctions should get sessions, got %d", registry.ActiveSessions())
	}

	// A second pass converges without duplicates.
	if err := r.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if registry.ActiveSessions() != 2 {
		t.Fatalf("reconcile must be idempotent, got %d", registry.ActiveSessions())
	}
}

func TestReconcileDirectoryError(t *testing.T) {
	registry := engine.NewRegistry(engine.Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	dir := &fakeDirectory{err: errors.New("directory down")}
	r := New(nil, dir, registry, zerolog.Nop())

	if err := r.Reconcile(context.Background(), time.Now()); err == nil {
		t.Fatal("a failed poll should surface the error")
	}
}

func TestReconcileSkipsExpired(t *testing.T) {
	now := time.Now()
	expired := ongoingConfig("a-1", now)
	expired.StartTime = now.Add(-2 * time.Hour)
	expired.EndTime = now.Add(-time.Hour)

	registry := engine.NewRegistry(engine.Options{}, nil, nil, nil, nil, nil, zerolog.Nop())
	r := New(nil, &fakeDirectory{configs: []auction.Config{expired}}, registry, zerolog.Nop())

	if err := r.Reconcile(context.Background(), now); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if registry.ActiveSessions() != 0 {
		t.Fatal("an auction past its end must not get a session")
	}
}
