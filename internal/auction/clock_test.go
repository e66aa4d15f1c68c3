package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func windowConfig(start, end time.Time) Config {
	return Config{
		ID:            "a-1",
		StartingPrice: decimal.NewFromInt(100),
		Increment:     decimal.NewFromInt(10),
		StartTime:     start,
		EndTime:       end,
		Status:        StatusOngoing,
	}
}

func TestBiddingOpenWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	cfg := windowConfig(start, end)

	if BiddingOpen(cfg, start.Add(-time.Second)) {
		t.Fatal("bidding should be closed before the start time")
	}
	if !BiddingOpen(cfg, start) {
		t.Fatal("bidding should be open exactly at the start time")
	}
	if !BiddingOpen(cfg, end.Add(-time.Millisecond)) {
		t.Fatal("bidding should be open just before the end time")
	}
	if BiddingOpen(cfg, end) {
		t.Fatal("bidding should be closed exactly at the end time")
	}
}

func TestBiddingOpenRequiresOngoing(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := windowConfig(start, start.Add(time.Hour))

	for _, status := range []Status{StatusScheduled, StatusCompleted, StatusCancelled} {
		cfg.Status = status
		if BiddingOpen(cfg, start.Add(time.Minute)) {
			t.Fatalf("status %s should never accept bids", status)
		}
	}
}

func TestTimeRemainingClampsAtZero(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	cfg := windowConfig(start, end)

	if got := TimeRemaining(cfg, start); got != time.Hour {
		t.Fatalf("expected one hour remaining, got %s", got)
	}
	if got := TimeRemaining(cfg, end.Add(time.Minute)); got != 0 {
		t.Fatalf("past the end time remaining should be zero, got %s", got)
	}
}
