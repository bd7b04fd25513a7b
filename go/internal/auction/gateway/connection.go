package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

var errShuttingDown = errors.New("connection manager shutting down")

// Dispatcher handles one inbound frame for identity. A non-nil reply is sent
// back to the requesting connection only.
type Dispatcher interface {
	Dispatch(ctx context.Context, identity string, msg events.Inbound) (reply *events.Envelope)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	Identity string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	dispatcher Dispatcher
	// cancelled when the read side closes
	ctx    context.Context
	cancel context.CancelFunc
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.disconnect(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// unbound: replaced, evicted or shutting down
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames and dispatches them in arrival order
func (c *Connection) readPump() {
	defer func() {
		c.cancel()
		c.Manager.disconnect(c)
		c.Conn.Close()
	}()

	if c.Manager.config.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	}
	c.setReadDeadline()
	c.Conn.SetPongHandler(func(string) error {
		c.setReadDeadline()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.setReadDeadline()
	}
}

func (c *Connection) setReadDeadline() {
	if c.Manager.config.ReadTimeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes a frame and hands it to the dispatcher
func (c *Connection) handleClientMessage(message []byte) {
	var msg events.Inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("malformed client frame")
		c.Manager.SendTo(c.ctx, c, events.Error(events.GenericError, errors.New("malformed message")))
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("identity", c.Identity).
		Str("event", string(msg.Event)).
		Msg("received client message")

	if reply := c.dispatcher.Dispatch(c.ctx, c.Identity, msg); reply != nil {
		c.Manager.SendTo(c.ctx, c, *reply)
	}
}
