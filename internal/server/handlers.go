package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "bidding-engine",
		"version":  version.Version,
		"sessions": s.registry.ActiveSessions(),
	})
}

// handleCurrentBid answers from the live ledger, or from the snapshot cache once
// the session is gone.
func (s *Server) handleCurrentBid(c *gin.Context) {
	auctionID := c.Param("id")

	if session, err := s.registry.Session(auctionID); err == nil {
		snap := session.Snapshot()
		cfg := session.Config()
		c.JSON(http.StatusOK, currentBidResponse(snap, auction.TimeRemaining(cfg, time.Now()), statusOf(session.Closed())))
		return
	}

	if s.snapshots != nil {
		snap, err := s.snapshots.GetSnapshot(c.Request.Context(), auctionID)
		if err != nil {
			s.logger.Warn().Err(err).Str("auction_id", auctionID).Msg("snapshot cache read failed")
		} else if snap != nil {
			c.JSON(http.StatusOK, currentBidResponse(*snap, 0, string(auction.StatusCompleted)))
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
}

// handleBidHistory returns every accepted bid, live or persisted.
func (s *Server) handleBidHistory(c *gin.Context) {
	auctionID := c.Param("id")

	if session, err := s.registry.Session(auctionID); err == nil {
		snap := session.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"auctionId": auctionID,
			"bids":      snap.History,
			"totalBids": snap.TotalBids,
		})
		return
	}

	if s.bids != nil {
		bids, err := s.bids.ListBids(c.Request.Context(), auctionID)
		if err != nil {
			s.logger.Warn().Err(err).Str("auction_id", auctionID).Msg("bid history read failed")
		} else if len(bids) > 0 {
			c.JSON(http.StatusOK, gin.H{
				"auctionId": auctionID,
				"bids":      bids,
				"totalBids": len(bids),
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
}

// handleStartSession is the orchestrator-facing StartSession operation.
func (s *Server) handleStartSession(c *gin.Context) {
	var cfg auction.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.ID = c.Param("id")

	if _, err := s.registry.StartSession(cfg); err != nil {
		switch {
		case errors.Is(err, auction.ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": "session already active"})
		case errors.Is(err, auction.ErrAuctionClosed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "auction end time already passed"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"auctionId": cfg.ID, "status": string(auction.StatusOngoing)})
}

// handleCancelSession is the orchestrator-facing explicit cancellation.
func (s *Server) handleCancelSession(c *gin.Context) {
	auctionID := c.Param("id")
	reason := c.Query("reason")
	if reason == "" {
		reason = "cancelled by auction service"
	}

	if err := s.registry.CancelSession(c.Request.Context(), auctionID, reason); err != nil {
		if errors.Is(err, auction.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func currentBidResponse(snap auction.Snapshot, remaining time.Duration, status string) gin.H {
	resp := gin.H{
		"auctionId":     snap.AuctionID,
		"numberOfBids":  snap.TotalBids,
		"bidderCount":   snap.BidderCount,
		"timeRemaining": int64(remaining.Seconds()),
		"status":        status,
	}
	if snap.CurrentBid != nil {
		resp["currentBid"] = snap.CurrentBid.Amount
		resp["highestBidder"] = snap.CurrentBid.BidderID
	} else {
		resp["currentBid"] = nil
		resp["highestBidder"] = nil
	}
	return resp
}

func statusOf(closed bool) string {
	if closed {
		return string(auction.StatusCompleted)
	}
	return string(auction.StatusOngoing)
}
