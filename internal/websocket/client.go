package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	// sendBufferSize bounds how many queued events a slow client may lag
	// behind before Broadcast starts dropping for it.
	sendBufferSize = 16

	pingInterval = 45 * time.Second
	writeWait    = 10 * time.Second
)

// Client is one connected dashboard. It only ever receives: the Event
// stream is one-way, and clients make their mutations over plain HTTP.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client with the hub and blocks until the connection
// drops, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeEvents(ctx)

	// Drain and discard anything the client sends. Reading is still
	// required so the library processes control frames and we notice the
	// close.
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// writeEvents pushes queued events to the connection, pinging between
// bursts so dead peers are detected. Each write gets its own deadline; one
// stuck client must not hold its goroutine forever.
func (c *Client) writeEvents(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// hub closed the channel, connection is done
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(wctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(wctx, ws.MessageText, msg)
}
