// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/realtime"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	requestTimeout = 10 * time.Second
)

// Client represents an authenticated WebSocket connection. It is the
// realtime.Sink the hub pushes events into; the write pump drains them.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	gateway  *Gateway
	identity domain.Identity
	id       realtime.ConnID
	addr     string
	log      *zap.SugaredLogger

	// mu guards closed and every send on the channel so that a send never
	// races the close.
	mu     sync.Mutex
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client instance for identity on conn. The client's
// send channel is buffered according to the gateway configuration.
func NewClient(conn *websocket.Conn, gateway *Gateway, identity domain.Identity, addr string) *Client {
	cfg := gateway.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		gateway:        gateway,
		identity:       identity,
		addr:           addr,
		log:            gateway.log,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// Identity returns the authenticated identity behind the connection.
func (c *Client) Identity() domain.Identity { return c.identity }

// Send implements realtime.Sink. It never blocks: a client whose buffer is
// full is treated as a slow consumer and its send channel is closed, which
// makes the write pump hang up.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warnf("Client from %s removed due to full send buffer", c.addr)
		c.closed = true
		close(c.send)
		return false
	}
}

// closeSend closes the send channel once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warnf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warnf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError logs a read failure at a level matching how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warnf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Infof("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Infof("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warnf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		c.log.Warnf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Infof("Rate limit exceeded for %s (%d messages per %s); discarding message",
			c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes one inbound frame and dispatches it to the chat
// service. Failures are reported to this connection only.
func (c *Client) processMessage(raw []byte) {
	var event InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		c.log.Debugf("Invalid event from %s: %v", c.addr, err)
		c.sendError(codeInvalidEvent, "malformed event")
		return
	}

	service := c.gateway.service
	service.Touch(c.identity)

	ctx, cancel := context.WithTimeout(c.gateway.ctx, requestTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case inboundJoinRoom:
		err = service.JoinRoom(ctx, c.id, c.identity, event.RoomID)
	case inboundLeaveRoom:
		service.Unsubscribe(c.id)
	case inboundSubmitMessage:
		_, err = service.SubmitMessage(ctx, c.identity, event.RoomID, event.Content)
	default:
		c.sendError(codeInvalidEvent, fmt.Sprintf("unknown event type %q", event.Type))
		return
	}
	if err != nil {
		c.reportError(event.Type, err)
	}
}

func (c *Client) reportError(eventType string, err error) {
	code := errorCode(err)
	if code == codeInternal {
		c.log.Errorf("Handling %s from %s failed: %v", eventType, c.addr, err)
		c.sendError(code, "internal error")
		return
	}
	c.sendError(code, err.Error())
}

func (c *Client) sendError(code, message string) {
	payload, err := realtime.Encode(realtime.EventError, realtime.ErrorPayload{Code: code, Message: message})
	if err != nil {
		c.log.Errorf("Error encoding error event for %s: %v", c.addr, err)
		return
	}
	c.Send(payload)
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.unregisterClient(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Warnf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			c.sendError(codeRateLimited, "too many messages")
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warnf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warnf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debugf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes one frame holding the message and whatever else is
// already queued, separated by newlines.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Warnf("Error creating writer for %s: %v", c.addr, err)
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.Warnf("Error writing message to %s: %v", c.addr, err)
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.log.Warnf("Error closing writer for %s: %v", c.addr, err)
		return false
	}
	return true
}

// writeQueuedMessages drains the messages queued at the time of the call.
func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return false
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Warnf("Error writing newline to %s: %v", c.addr, err)
			return false
		}
		if _, err := w.Write(queued); err != nil {
			c.log.Warnf("Error writing queued message to %s: %v", c.addr, err)
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warnf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warnf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
