package broadcast

import (
	"time"

	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
)

// Event is any message deliverable to auction subscribers. The Type discriminator
// travels in the JSON payload so browser clients can switch on it.
type Event interface {
	EventType() string
}

const (
	TypeAuctionState     = "AUCTION_STATE"
	TypeBidPlaced        = "BID_PLACED"
	TypeBidAccepted      = "BID_ACCEPTED"
	TypeBidRejected      = "BID_REJECTED"
	TypeAuctionEnded     = "AUCTION_ENDED"
	TypeAuctionCancelled = "AUCTION_CANCELLED"
)

// AuctionState is sent once to each subscriber at subscription time so late
// joiners see the ledger as it was at that instant.
type AuctionState struct {
	Type        string        `json:"type"`
	AuctionID   string        `json:"auctionId"`
	CurrentBid  *auction.Bid  `json:"currentBid"`
	BidHistory  []auction.Bid `json:"bidHistory"`
	BidderCount int           `json:"bidderCount"`
}

// BidPlaced is the public broadcast for an accepted bid.
type BidPlaced struct {
	Type          string          `json:"type"`
	AuctionID     string          `json:"auctionId"`
	NewCurrentBid decimal.Decimal `json:"newCurrentBid"`
	BidderID      string          `json:"bidderId"`
	Sequence      int64           `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
}

// BidAccepted is the private ack to the submitter carrying the sequence number.
type BidAccepted struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

// BidRejected is private to the submitter; other subscribers never see it.
type BidRejected struct {
	Type       string           `json:"type"`
	AuctionID  string           `json:"auctionId"`
	Reason     string           `json:"reason"`
	MinimumBid *decimal.Decimal `json:"minimumBid,omitempty"`
}

// AuctionEnded is the public terminal event for a completed auction.
type AuctionEnded struct {
	Type       string           `json:"type"`
	AuctionID  string           `json:"auctionId"`
	WinnerID   string           `json:"winnerId"`
	FinalBid   *decimal.Decimal `json:"finalBid"`
	ReserveMet bool             `json:"reserveMet"`
}

// AuctionCancelled is the public terminal event for a cancelled auction.
type AuctionCancelled struct {
	Type      string `json:"type"`
	AuctionID string `json:"auctionId"`
	Reason    string `json:"reason"`
}

func (e AuctionState) EventType() string     { return TypeAuctionState }
func (e BidPlaced) EventType() string        { return TypeBidPlaced }
func (e BidAccepted) EventType() string      { return TypeBidAccepted }
func (e BidRejected) EventType() string      { return TypeBidRejected }
func (e AuctionEnded) EventType() string     { return TypeAuctionEnded }
func (e AuctionCancelled) EventType() string { return TypeAuctionCancelled }

// NewAuctionState shapes a ledger snapshot into the subscription handshake event.
func NewAuctionState(snap auction.Snapshot) AuctionState {
	return AuctionState{
		Type:        TypeAuctionState,
		AuctionID:   snap.AuctionID,
		CurrentBid:  snap.CurrentBid,
		BidHistory:  snap.History,
		BidderCount: snap.BidderCount,
	}
}
