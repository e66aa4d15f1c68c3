package auction

import (
	"github.com/shopspring/decimal"
)

// Ledger is the append-only record of accepted bids for one auction. It is not
// safe for concurrent use: the owning arbiter serializes every access.
type Ledger struct {
	startingPrice decimal.Decimal
	increment     decimal.Decimal

	bids    []Bid
	bidders map[string]struct{}
	frozen  bool
}

// Snapshot is a point-in-time read-only view of a ledger, shaped for late joiners
// and REST reads.
type Snapshot struct {
	AuctionID   string `json:"auctionId"`
	CurrentBid  *Bid   `json:"currentBid"`
	BidderCount int    `json:"bidderCount"`
	TotalBids   int    `json:"totalBids"`
	History     []Bid  `json:"bidHistory"`
}

// NewLedger builds an empty ledger for an auction's starting price and increment.
func NewLedger(cfg Config) *Ledger {
	return &Ledger{
		startingPrice: cfg.StartingPrice,
		increment:     cfg.Increment,
		bidders:       make(map[string]struct{}),
	}
}

// CurrentBid returns the last accepted bid, if any.
func (l *Ledger) CurrentBid() (Bid, bool) {
	if len(l.bids) == 0 {
		return Bid{}, false
	}
	return l.bids[len(l.bids)-1], true
}

// CurrentAmount returns the leading amount, or the starting price when empty.
func (l *Ledger) CurrentAmount() decimal.Decimal {
	if bid, ok := l.CurrentBid(); ok {
		return bid.Amount
	}
	return l.startingPrice
}

// MinimumNextBid returns the smallest acceptable amount. The very first bid only
// has to meet the starting price; every later bid must clear the leader by one
// full increment.
func (l *Ledger) MinimumNextBid() decimal.Decimal {
	if len(l.bids) == 0 {
		return l.startingPrice
	}
	return l.CurrentAmount().Add(l.increment)
}

// Append records an accepted bid and assigns its sequence number. The amount is
// re-validated against MinimumNextBid even though the arbiter has already checked
// it: the ledger protects its own monotonicity invariant.
func (l *Ledger) Append(bid Bid) (int64, error) {
	if l.frozen {
		return 0, ErrLedgerFrozen
	}
	if bid.Amount.LessThan(l.MinimumNextBid()) {
		return 0, ErrOutOfOrderBid
	}
	bid.Sequence = int64(len(l.bids) + 1)
	l.bids = append(l.bids, bid)
	l.bidders[bid.BidderID] = struct{}{}
	return bid.Sequence, nil
}

// Freeze makes the ledger read-only. Called once at auction end; the ledger stays
// queryable until the session is discarded.
func (l *Ledger) Freeze() {
	l.frozen = true
}

// TotalBids returns how many bids have been accepted.
func (l *Ledger) TotalBids() int {
	return len(l.bids)
}

// Snapshot copies the current state. historyLimit bounds the returned history to
// the most recent bids (oldest first); zero or negative means everything.
func (l *Ledger) Snapshot(auctionID string, historyLimit int) Snapshot {
	snap := Snapshot{
		AuctionID:   auctionID,
		BidderCount: len(l.bidders),
		TotalBids:   len(l.bids),
	}
	if bid, ok := l.CurrentBid(); ok {
		current := bid
		snap.CurrentBid = &current
	}
	history := l.bids
	if historyLimit > 0 && len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	snap.History = make([]Bid, len(history))
	copy(snap.History, history)
	return snap
}
