package websocket

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"
)

const pingInterval = 30 * time.Second

// Client is one WebSocket connection subscribed to a single user's messages.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	userID string
}

func NewClient(hub *Hub, conn *ws.Conn, userID string) *Client {
	return &Client{hub: hub, conn: conn, userID: userID}
}

// Run subscribes the client, starts the write pump and runs the read pump.
// It blocks until the connection is closed, then unsubscribes.
func (c *Client) Run(ctx context.Context) {
	send, cancelSub := c.hub.Subscribe(c.userID)
	defer cancelSub()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx, send)
	c.readPump(ctx)
}

// readPump discards incoming frames until the connection fails.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writePump drains send onto the socket and pings periodically to detect
// stale connections.
func (c *Client) writePump(ctx context.Context, send <-chan Message) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.Error("marshal message", "error", err)
				continue
			}
			if err := c.conn.Write(ctx, ws.MessageText, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
