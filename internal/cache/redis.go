package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"bidding-engine/internal/auction"
)

// SnapshotCache keeps the latest public snapshot per auction so REST reads keep
// answering after the live session is torn down.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache builds a redis-backed snapshot cache.
func NewSnapshotCache(addr, password string, db int, ttl time.Duration) *SnapshotCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &SnapshotCache{
		client: rdb,
		ttl:    ttl,
	}
}

func key(auctionID string) string { return "auction:state:" + auctionID }

// SetSnapshot stores the snapshot as JSON under the auction's key.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, snap auction.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(snap.AuctionID), b, c.ttl).Err()
}

// GetSnapshot loads a cached snapshot. A cache miss returns (nil, nil).
func (c *SnapshotCache) GetSnapshot(ctx context.Context, auctionID string) (*auction.Snapshot, error) {
	b, err := c.client.Get(ctx, key(auctionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap auction.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Invalidate drops an auction's cached snapshot.
func (c *SnapshotCache) Invalidate(ctx context.Context, auctionID string) error {
	return c.client.Del(ctx, key(auctionID)).Err()
}

// Close releases the redis client.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
