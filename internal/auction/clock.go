package auction

import "time"

// BiddingOpen reports whether bids may be accepted for cfg at the given instant:
// the auction is ONGOING and now falls inside [StartTime, EndTime).
func BiddingOpen(cfg Config, now time.Time) bool {
	if cfg.Status != StatusOngoing {
		return false
	}
	return !now.Before(cfg.StartTime) && now.Before(cfg.EndTime)
}

// TimeRemaining returns the duration until EndTime, clamped at zero.
func TimeRemaining(cfg Config, now time.Time) time.Duration {
	remaining := cfg.EndTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
