// Package transport carries protocol frames over websockets.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Receive once the peer closed the connection
// normally, and by Send after Close.
var ErrClosed = errors.New("connection closed")

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// Conn is a websocket connection with an exclusive write lock. Send may be
// called from many goroutines; Receive must only be called from one.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex // held for one whole frame write
	closed bool
}

// NewConn wraps ws. A zero writeTimeout means DefaultWriteTimeout.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// RemoteAddr identifies the peer.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Send writes data as one text frame. The write is bounded by the write
// timeout or the deadline of ctx, whichever comes first.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks until the next text frame arrives.
func (c *Conn) Receive() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, err
		}
		switch kind {
		case websocket.TextMessage:
			return data, nil
		case websocket.BinaryMessage:
			return nil, fmt.Errorf("unexpected binary frame of %d bytes", len(data))
		}
	}
}

// Close sends a close frame, best effort, and closes the socket. It is safe
// to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
