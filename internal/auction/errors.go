package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuctionClosed rejects bids outside the bidding window or after teardown.
	ErrAuctionClosed = errors.New("auction closed for bidding")
	// ErrAlreadyHighestBidder rejects self-raises under RejectSelfRaise policy.
	ErrAlreadyHighestBidder = errors.New("already the highest bidder")
	// ErrSellerCannotBid rejects the seller bidding on their own auction.
	ErrSellerCannotBid = errors.New("seller cannot bid on own auction")
	// ErrAlreadyActive signals a duplicate session start for the same auction id.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound signals an unknown auction/session id.
	ErrNotFound = errors.New("session not found")
	// ErrOutOfOrderBid is the ledger's invariant guard. The arbiter validates before
	// appending, so this firing means the single-writer discipline was broken.
	ErrOutOfOrderBid = errors.New("out-of-order bid append")
	// ErrLedgerFrozen rejects appends to an ended auction's ledger.
	ErrLedgerFrozen = errors.New("ledger frozen")
)

// BidTooLowError carries the exact minimum so callers can prompt a valid retry.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: must be at least %s", e.Minimum.String())
}

// RejectReason renders a placement error as the user-facing rejection reason.
func RejectReason(err error) string {
	var tooLow *BidTooLowError
	if errors.As(err, &tooLow) {
		return tooLow.Error()
	}
	return err.Error()
}
