package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/engine"
	"bidding-engine/internal/fetcher"
	"bidding-engine/internal/scheduler"
)

// Reconciler polls the auction directory and converges the session registry onto
// it: ONGOING auctions the broker notification missed get sessions started. It is
// the poll flavor of the status-change interface; AMQP is the push flavor, and
// running both is safe because StartSession rejects duplicates.
type Reconciler struct {
	scheduler *scheduler.Scheduler
	directory fetcher.Directory
	registry  *engine.Registry
	logger    zerolog.Logger
}

// New constructs the reconciler.
func New(sched *scheduler.Scheduler, directory fetcher.Directory, registry *engine.Registry, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		scheduler: sched,
		directory: directory,
		registry:  registry,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run begins the polling loop.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return r.scheduler.Run(ctx, r.Reconcile)
}

// Reconcile executes a single poll.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) error {
	configs, err := r.directory.ListOngoing(ctx)
	if err != nil {
		return fmt.Errorf("list ongoing auctions: %w", err)
	}

	started := 0
	for _, cfg := range configs {
		// Directory listings can lag: an auction past its end is the end timer's
		// business on whichever instance still holds it, not a new session.
		if !now.Before(cfg.EndTime) {
			r.logger.Debug().Str("auction_id", cfg.ID).Msg("skipping listed auction past its end time")
			continue
		}
		if _, err := r.registry.StartSession(cfg); err != nil {
			if errors.Is(err, auction.ErrAlreadyActive) {
				continue
			}
			r.logger.Error().Err(err).Str("auction_id", cfg.ID).Msg("failed to start session from poll")
			continue
		}
		started++
		r.logger.Info().Str("auction_id", cfg.ID).Msg("session started from directory poll")
	}

	if started > 0 {
		r.logger.Info().Int("started", started).Int("ongoing", len(configs)).Msg("reconcile pass complete")
	}
	return nil
}
