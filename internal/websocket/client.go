package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Client is one authenticated websocket connection. It implements Handle.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	userID uuid.UUID
	log    zerolog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		userID: userID,
		log:    logger.Component("client").With().Str("user_id", userID.String()).Logger(),
	}
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Send queues a frame for the write pump. It waits for buffer space until ctx
// is done.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	// Free buffer space wins even when ctx has already expired.
	select {
	case c.send <- frame:
		return nil
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// ReadPump decodes inbound frames and submits them to the hub. It returns when
// the connection fails or a frame claims another sender, and tells the hub
// this connection is gone.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
		defer cancel()
		if err := c.hub.Shutdown(shutdownCtx, c.userID, c); err != nil {
			c.log.Warn().Err(err).Msg("could not report disconnect to hub")
		}
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	// Set read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error().Err(err).Msg("websocket read error")
			}
			return
		}

		req, err := models.DecodeRequest(message)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping inbound frame")
			continue
		}
		if req.Sender() != c.userID {
			c.log.Warn().
				Str("claimed_sender", req.Sender().String()).
				Str("kind", string(req.Kind())).
				Msg("frame sender does not match connection, closing")
			return
		}

		if err := c.hub.Inbound(ctx, req); err != nil {
			c.log.Error().Err(err).Msg("hub rejected inbound event")
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Error().Err(err).Msg("write error")
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
