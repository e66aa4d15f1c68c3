package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bidding-engine/internal/auction"
	"bidding-engine/internal/broadcast"
	"bidding-engine/internal/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var errSubscriberGone = errors.New("subscriber connection closed")

// inboundMessage is the client-to-engine frame. BidAmount accepts JSON numbers
// and strings; decimal keeps borderline amounts exact.
type inboundMessage struct {
	Type      string          `json:"type"`
	BidAmount decimal.Decimal `json:"bidAmount"`
}

// wsClient adapts one websocket connection to the broadcast.Subscriber contract.
// Events are enqueued onto a bounded buffer drained by a dedicated writer
// goroutine, so a stalled connection can never block the publisher.
type wsClient struct {
	id       string
	bidderID string
	username string

	conn   *websocket.Conn
	send   chan broadcast.Event
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newWSClient(conn *websocket.Conn, bidderID, username string, buffer int, logger zerolog.Logger) *wsClient {
	return &wsClient{
		id:       uuid.NewString(),
		bidderID: bidderID,
		username: username,
		conn:     conn,
		send:     make(chan broadcast.Event, buffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (c *wsClient) ID() string       { return c.id }
func (c *wsClient) BidderID() string { return c.bidderID }

// Send enqueues without blocking. A full buffer means the client cannot keep up
// with the event rate; the broadcaster drops it on the returned error.
func (c *wsClient) Send(ev broadcast.Event) error {
	select {
	case <-c.done:
		return errSubscriberGone
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errors.New("subscriber buffer full")
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump drains the event buffer onto the wire and keeps the connection
// alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump handles inbound frames until the client disconnects.
func (c *wsClient) readPump(session *engine.Session) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "PLACE_BID":
			c.handlePlaceBid(session, msg)
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("unknown inbound message type")
		}
	}
}

func (c *wsClient) handlePlaceBid(session *engine.Session, msg inboundMessage) {
	auctionID := session.Config().ID

	if c.bidderID == "" {
		c.sendPrivate(broadcast.BidRejected{
			Type:      broadcast.TypeBidRejected,
			AuctionID: auctionID,
			Reason:    "authentication required to place bids",
		})
		return
	}

	bid, err := session.PlaceBid(c.bidderID, c.username, msg.BidAmount)
	if err != nil {
		rejection := broadcast.BidRejected{
			Type:      broadcast.TypeBidRejected,
			AuctionID: auctionID,
			Reason:    auction.RejectReason(err),
		}
		var tooLow *auction.BidTooLowError
		if errors.As(err, &tooLow) {
			minimum := tooLow.Minimum
			rejection.MinimumBid = &minimum
		}
		c.sendPrivate(rejection)
		return
	}

	c.sendPrivate(broadcast.BidAccepted{
		Type:      broadcast.TypeBidAccepted,
		AuctionID: auctionID,
		Amount:    bid.Amount,
		Sequence:  bid.Sequence,
		Timestamp: bid.PlacedAt,
	})
}

func (c *wsClient) sendPrivate(ev broadcast.Event) {
	if err := c.Send(ev); err != nil {
		c.logger.Warn().Err(err).Str("event", ev.EventType()).Msg("failed to deliver private event")
	}
}

// handleWebSocket upgrades the connection, subscribes it to the auction, and
// serves it until disconnect.
func (s *Server) handleWebSocket(c *gin.Context) {
	auctionID := c.Param("id")

	var bidderID, username string
	if token := c.Query("token"); token != "" {
		if s.verifier == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token verification not configured"})
			return
		}
		id, err := s.verifier.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		bidderID, username = id.UserID, id.Username
	}

	session, err := s.registry.Session(auctionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := s.logger.With().Str("auction_id", auctionID).Str("bidder_id", bidderID).Logger()
	client := newWSClient(conn, bidderID, username, s.subscriberBuffer, logger)

	s.metrics.AddSubscribers(1)
	session.Subscribe(client)
	logger.Info().Str("conn_id", client.id).Msg("subscriber connected")

	go client.writePump()
	client.readPump(session)

	session.Unsubscribe(client.id)
	client.close()
	s.metrics.AddSubscribers(-1)
	logger.Info().Str("conn_id", client.id).Msg("subscriber disconnected")
}

var _ broadcast.Subscriber = (*wsClient)(nil)
