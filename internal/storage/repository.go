package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/engine"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertBidSQL = `INSERT INTO bids (
        auction_id,
        bidder_id,
        bidder_name,
        amount,
        placed_at,
        sequence
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (auction_id, sequence) DO NOTHING;`

	listBidsSQL = `SELECT
        auction_id,
        bidder_id,
        bidder_name,
        amount,
        placed_at,
        sequence
    FROM bids
    WHERE auction_id = $1
    ORDER BY sequence;`

	listRecentBidsSQL = `SELECT
        auction_id,
        bidder_id,
        bidder_name,
        amount,
        placed_at,
        sequence
    FROM bids
    WHERE auction_id = $1
    ORDER BY sequence DESC
    LIMIT $2;`

	recordResultSQL = `INSERT INTO auction_results (
        auction_id,
        winner_id,
        final_bid,
        reserve_met,
        cancelled,
        reason,
        ended_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (auction_id) DO UPDATE
    SET winner_id   = EXCLUDED.winner_id,
        final_bid   = EXCLUDED.final_bid,
        reserve_met = EXCLUDED.reserve_met,
        cancelled   = EXCLUDED.cancelled,
        reason      = EXCLUDED.reason,
        ended_at    = EXCLUDED.ended_at;`

	getResultSQL = `SELECT
        auction_id,
        winner_id,
        final_bid,
        reserve_met,
        cancelled,
        reason,
        ended_at
    FROM auction_results
    WHERE auction_id = $1;`
)

// Store persists accepted bids and final auction results.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertBid records one accepted bid. The (auction_id, sequence) key makes the
// write-behind path safe to retry.
func (s *Store) InsertBid(ctx context.Context, bid auction.Bid) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertBidSQL,
		bid.AuctionID,
		bid.BidderID,
		bid.BidderName,
		bid.Amount.String(),
		bid.PlacedAt,
		bid.Sequence,
	)
	if execErr != nil {
		return fmt.Errorf("insert bid: %w", execErr)
	}
	return nil
}

// ListBids returns every persisted bid for an auction in sequence order.
func (s *Store) ListBids(ctx context.Context, auctionID string) ([]auction.Bid, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBidsSQL, auctionID)
	if queryErr != nil {
		return nil, fmt.Errorf("list bids: %w", queryErr)
	}
	defer rows.Close()

	return scanBids(rows)
}

// ListRecentBids returns the most recent bids, newest first.
func (s *Store) ListRecentBids(ctx context.Context, auctionID string, limit int) ([]auction.Bid, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBidsSQL, auctionID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent bids: %w", queryErr)
	}
	defer rows.Close()

	return scanBids(rows)
}

// RecordResult upserts the final outcome of an auction.
func (s *Store) RecordResult(ctx context.Context, res engine.Result) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var finalBid interface{}
	if res.FinalBid != nil {
		finalBid = res.FinalBid.String()
	}

	_, execErr := pool.Exec(ctx, recordResultSQL,
		res.AuctionID,
		res.WinnerID,
		finalBid,
		res.ReserveMet,
		res.Cancelled,
		res.Reason,
		res.EndedAt,
	)
	if execErr != nil {
		return fmt.Errorf("record result: %w", execErr)
	}
	return nil
}

// GetResult loads the final outcome of an auction, if recorded.
func (s *Store) GetResult(ctx context.Context, auctionID string) (engine.Result, error) {
	pool, err := s.getPool()
	if err != nil {
		return engine.Result{}, err
	}

	var (
		res      engine.Result
		finalBid *string
	)
	row := pool.QueryRow(ctx, getResultSQL, auctionID)
	if scanErr := row.Scan(
		&res.AuctionID,
		&res.WinnerID,
		&finalBid,
		&res.ReserveMet,
		&res.Cancelled,
		&res.Reason,
		&res.EndedAt,
	); scanErr != nil {
		return engine.Result{}, fmt.Errorf("get result: %w", scanErr)
	}

	if finalBid != nil {
		amount, convErr := decimal.NewFromString(*finalBid)
		if convErr != nil {
			return engine.Result{}, fmt.Errorf("parse final bid: %w", convErr)
		}
		res.FinalBid = &amount
	}
	return res, nil
}

func scanBids(rows pgx.Rows) ([]auction.Bid, error) {
	bids := make([]auction.Bid, 0)
	for rows.Next() {
		var (
			bid       auction.Bid
			amountStr string
			placedAt  time.Time
		)
		if err := rows.Scan(
			&bid.AuctionID,
			&bid.BidderID,
			&bid.BidderName,
			&amountStr,
			&placedAt,
			&bid.Sequence,
		); err != nil {
			return nil, err
		}

		amount, convErr := decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse bid amount: %w", convErr)
		}
		bid.Amount = amount
		bid.PlacedAt = placedAt
		bids = append(bids, bid)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bids, nil
}

var _ engine.BidStore = (*Store)(nil)
