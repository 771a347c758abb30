// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client represents one live WebSocket connection. Identity fields stay empty
// until the credential attached to the upgrade request resolves; a user with
// several tabs open holds several Clients with the same userID.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	router         *Router
	addr           string
	userID         string
	username       string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	heartbeat      *heartbeat
}

// NewClient creates a new Client instance for the provided WebSocket
// connection. The client's send channel is buffered so one slow recipient
// cannot stall deliveries to others.
func NewClient(conn *websocket.Conn, hub *Hub, router *Router, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	c := &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		router:         router,
		addr:           addr,
		closed:         false,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
	}

	if conn != nil {
		c.heartbeat = newHeartbeat(
			cfg.Heartbeat.Interval,
			cfg.Heartbeat.Timeout,
			c.sendProbe,
			c.expire,
		)
	}

	return c
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Identity returns the client's resolved (userID, username) pair; both are
// empty while the connection is anonymous.
func (c *Client) Identity() (string, string) {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	return c.userID, c.username
}

// sendProbe writes a ping control frame. Control writes are safe to issue
// concurrently with the write pump.
func (c *Client) sendProbe() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// expire forcibly terminates a connection that failed its liveness probe.
// Unregistration happens before the transport close, so the presence
// broadcast triggered by removal can never list this connection as online.
func (c *Client) expire() {
	userID, _ := c.Identity()
	c.hub.log.Warnw("liveness timeout; terminating connection", "addr", c.addr, "userId", userID)
	c.hub.requestUnregister(c)
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.hub.log.Debugw("closing expired connection", "addr", c.addr, "err", err)
	}
}

// setupReadConnection wires pong acknowledgments into the heartbeat state machine.
func (c *Client) setupReadConnection() {
	c.conn.SetPongHandler(func(string) error {
		if c.heartbeat != nil {
			c.heartbeat.ack()
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	log := c.hub.log

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warnw("message exceeded maximum size", "addr", c.addr, "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Infow("client disconnected", "addr", c.addr, "err", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Infow("client connection closed", "addr", c.addr, "err", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Warnw("unexpected websocket error", "addr", c.addr, "err", err)
		return true
	}

	log.Warnw("websocket read error", "addr", c.addr, "err", err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.hub.log.Warnw("rate limit exceeded; discarding message",
			"addr", c.addr, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// readPump receives inbound frames and hands each to the router. Running the
// router on this loop keeps a single sender's messages in order: the next
// frame is not read until the previous one has been persisted and dispatched.
func (c *Client) readPump() {
	defer func() {
		c.hub.requestUnregister(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.hub.log.Debugw("closing connection in readPump", "addr", c.addr, "err", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.router.HandleInbound(c, rawMessage)
	}
}

func (c *Client) writePump() {
	defer c.closeConnection()

	for {
		message, ok := <-c.send
		if !c.handleMessage(message, ok) {
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Debugw("closing connection in writePump", "addr", c.addr, "err", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.hub.log.Warnw("setting write deadline", "addr", c.addr, "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client.
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Debugw("writing close message", "addr", c.addr, "err", err)
		}
	}
	return false
}

// writeTextMessage writes one envelope as its own text frame. Envelopes are
// never coalesced: each frame must stay a single JSON object for the client.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.hub.log.Debugw("writing message", "addr", c.addr, "err", err)
		return false
	}
	return true
}
