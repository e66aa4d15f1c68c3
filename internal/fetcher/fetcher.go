package fetcher

import (
	"context"

	"bidding-engine/internal/auction"
)

// Directory retrieves auction configuration from the external auction service.
type Directory interface {
	// FetchConfig loads one auction's configuration by id.
	FetchConfig(ctx context.Context, auctionID string) (auction.Config, error)
	// ListOngoing lists auctions the service currently reports as ONGOING.
	ListOngoing(ctx context.Context) ([]auction.Config, error)
}
