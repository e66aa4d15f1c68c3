package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/config"
	"bidding-engine/internal/engine"
	"bidding-engine/internal/identity"
	"bidding-engine/internal/instrumentation"
)

// SnapshotReader serves cached snapshots for auctions without a live session.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, auctionID string) (*auction.Snapshot, error)
}

// BidReader serves persisted bid history for ended auctions.
type BidReader interface {
	ListBids(ctx context.Context, auctionID string) ([]auction.Bid, error)
}

// Server exposes the engine over HTTP: REST reads, session lifecycle for the
// orchestrating service, and the websocket subscriber endpoint.
type Server struct {
	cfg      config.ServerConfig
	registry *engine.Registry
	verifier *identity.Verifier
	// snapshots and bids may be nil; the handlers then answer from live
	// sessions only.
	snapshots SnapshotReader
	bids      BidReader
	metrics   *instrumentation.Metrics
	logger    zerolog.Logger

	subscriberBuffer int
	upgrader         websocket.Upgrader

	httpServer *http.Server
}

// Options collects the server's collaborators.
type Options struct {
	Config           config.ServerConfig
	Registry         *engine.Registry
	Verifier         *identity.Verifier
	Snapshots        SnapshotReader
	Bids             BidReader
	Metrics          *instrumentation.Metrics
	SubscriberBuffer int
}

// New wires the HTTP server.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 32
	}
	s := &Server{
		cfg:              opts.Config,
		registry:         opts.Registry,
		verifier:         opts.Verifier,
		snapshots:        opts.Snapshots,
		bids:             opts.Bids,
		metrics:          opts.Metrics,
		logger:           logger.With().Str("component", "server").Logger(),
		subscriberBuffer: opts.SubscriberBuffer,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/auctions/:id/current-bid", s.handleCurrentBid)
		v1.GET("/auctions/:id/bids", s.handleBidHistory)
		v1.POST("/auctions/:id/start", s.handleStartSession)
		v1.DELETE("/auctions/:id", s.handleCancelSession)
	}

	r.GET("/ws/auctions/:id", s.handleWebSocket)
	return r
}

// Run serves until ctx is cancelled, then drains with the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
