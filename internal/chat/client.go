package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ageniuscoder/roomchat/internal/wire"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

type Client struct {
	UserID int64

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// rooms is guarded by hub.mu.
	rooms    map[int64]bool
	dropOnce sync.Once
}

func (h *Hub) newClient(conn *websocket.Conn, userID int64) *Client {
	return &Client{
		UserID:  userID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: h.newLimiter(),
		rooms:   make(map[int64]bool),
	}
}

// serve registers c and starts its pumps. It returns false if the hub has
// already stopped.
func (c *Client) serve() bool {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.conn.Close()
		return false
	}
	go c.writePump()
	go c.readPump()
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws_read_failed", "user_id", c.UserID, "err", err)
			}
			break
		}
		env, err := wire.Parse(msg)
		if err != nil {
			c.hub.replyErr(c, wire.Envelope{}, errMalformed)
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
