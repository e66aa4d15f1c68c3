package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status mirrors the auction service's lifecycle states.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusOngoing   Status = "ONGOING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// LeaderPolicy decides whether the current highest bidder may raise their own bid.
type LeaderPolicy string

const (
	AllowSelfRaise  LeaderPolicy = "allow-self-raise"
	RejectSelfRaise LeaderPolicy = "reject-self-raise"
)

// Config is the externally owned auction record the engine reads but never writes.
type Config struct {
	ID            string          `json:"auctionId"`
	ItemID        string          `json:"itemId"`
	SellerID      string          `json:"sellerId"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	ReservePrice  decimal.Decimal `json:"reservePrice"`
	Increment     decimal.Decimal `json:"bidIncrement"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
	Status        Status          `json:"status"`
}

// Validate checks the invariants the engine relies on before a session is built.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("auction id is required")
	}
	if !c.EndTime.After(c.StartTime) {
		return fmt.Errorf("auction %s: end time must be after start time", c.ID)
	}
	if !c.Increment.IsPositive() {
		return fmt.Errorf("auction %s: bid increment must be positive", c.ID)
	}
	if c.StartingPrice.IsNegative() {
		return fmt.Errorf("auction %s: starting price cannot be negative", c.ID)
	}
	return nil
}

// Bid is an accepted bid. Immutable once the ledger has appended it.
type Bid struct {
	AuctionID  string          `json:"auctionId"`
	BidderID   string          `json:"bidderId"`
	BidderName string          `json:"bidderName,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	PlacedAt   time.Time       `json:"placedAt"`
	Sequence   int64           `json:"sequence"`
}
