package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"bidding-engine/internal/alerting"
	"bidding-engine/internal/auction"
	"bidding-engine/internal/cache"
	"bidding-engine/internal/config"
	"bidding-engine/internal/engine"
	"bidding-engine/internal/fetcher"
	"bidding-engine/internal/identity"
	"bidding-engine/internal/instrumentation"
	"bidding-engine/internal/messaging"
	"bidding-engine/internal/scheduler"
	"bidding-engine/internal/server"
	"bidding-engine/internal/service"
	"bidding-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 0, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) openCache() *cache.SnapshotCache {
	if a.Config.Redis.Addr == "" {
		return nil
	}
	return cache.NewSnapshotCache(a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB, a.Config.Redis.TTL)
}

// Run executes the long-running bidding engine service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; bid persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snapCache := a.openCache()
	if snapCache == nil {
		a.Logger.Warn().Msg("redis.addr not configured; snapshot cache disabled")
	} else {
		defer snapCache.Close()
	}

	var producer *messaging.Producer
	if a.Config.AMQP.URL != "" {
		producer = messaging.NewProducer(a.Config.AMQP, a.Logger)
		defer producer.Close()
	}

	metrics := instrumentation.NewMetrics()

	var bidStore engine.BidStore
	var snapshots engine.SnapshotCache
	var completions engine.CompletionPublisher
	if store != nil {
		bidStore = store
	}
	if snapCache != nil {
		snapshots = snapCache
	}
	if producer != nil {
		completions = producer
	}

	registry := engine.NewRegistry(engine.Options{
		LeaderPolicy: auction.LeaderPolicy(a.Config.Auction.LeaderPolicy),
		HistoryLimit: a.Config.Auction.HistoryLimit,
		RecordBuffer: a.Config.Auction.RecordBuffer,
	}, bidStore, snapshots, completions, a.newNotifier(), metrics, a.Logger)

	var verifier *identity.Verifier
	if a.Config.Identity.JWTSecret != "" {
		verifier = identity.NewVerifier(a.Config.Identity.JWTSecret)
	} else {
		a.Logger.Warn().Msg("identity.jwt_secret not configured; all connections are anonymous spectators")
	}

	var snapReader server.SnapshotReader
	var bidReader server.BidReader
	if snapCache != nil {
		snapReader = snapCache
	}
	if store != nil {
		bidReader = store
	}

	srv := server.New(server.Options{
		Config:           a.Config.Server,
		Registry:         registry,
		Verifier:         verifier,
		Snapshots:        snapReader,
		Bids:             bidReader,
		Metrics:          metrics,
		SubscriberBuffer: a.Config.Auction.SubscriberBuffer,
	}, a.Logger)

	if a.Config.AMQP.URL != "" {
		consumer := messaging.NewConsumer(a.Config.AMQP, registry, a.Logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("amqp consumer terminated")
			}
		}()
	} else {
		a.Logger.Warn().Msg("amqp.url not configured; lifecycle events limited to REST and polling")
	}

	if a.Config.Directory.BaseURL != "" {
		directory := fetcher.NewHTTPDirectory(fetcher.DirectoryOptions{
			BaseURL: a.Config.Directory.BaseURL,
			Timeout: a.Config.Directory.RequestTimeout,
		}, a.Logger)
		sched := scheduler.New(scheduler.Options{Interval: a.Config.Directory.PollInterval}, a.Logger)
		reconciler := service.New(sched, directory, registry, a.Logger)
		go func() {
			if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("reconciler terminated")
			}
		}()
	}

	a.Logger.Info().Msg("starting bidding engine")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("bidding engine stopped")
	return nil
}

// RecentBids lists persisted bids for one auction, newest first.
func (a *App) RecentBids(ctx context.Context, auctionID string, limit int) ([]auction.Bid, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database.dsn not configured")
	}
	defer closeStore()

	return store.ListRecentBids(ctx, auctionID, limit)
}
