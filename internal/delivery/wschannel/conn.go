// Package wschannel adapts a websocket connection to delivery.Channel.
package wschannel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

// ErrClosed is returned when sending on a closed channel.
var ErrClosed = errors.New("channel closed")

const (
	defaultWriteTimeout = 10 * time.Second
	closeTimeout        = time.Second
)

// Conn wraps a websocket connection. Writes are serialized; Close never
// waits for a write in progress.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

// New wraps ws.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes payload as one text frame. The ctx deadline bounds the write.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	// Close expires the deadline after marking the conn closed, so checking
	// here means a concurrent Close either stops or aborts this write.
	if c.closed.Load() {
		return ErrClosed
	}
	if err := websocket.Message.Send(c.ws, string(payload)); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close sends a close frame with code and closes the connection. When a write
// is in progress it is aborted and no close frame is sent. Calling Close more
// than once is a no-op.
func (c *Conn) Close(code int, _ string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var werr error
	if c.mu.TryLock() {
		_ = c.ws.SetWriteDeadline(time.Now().Add(closeTimeout))
		werr = c.ws.WriteClose(code)
		c.mu.Unlock()
	}

	// An expired deadline aborts a blocked write and keeps ws.Close from
	// writing a second close frame before it drops the connection.
	_ = c.ws.SetWriteDeadline(time.Now())
	_ = c.ws.Close()
	return werr
}

// Receive blocks for the next client frame. It returns once the client goes
// away or the channel is closed; liveness is left to the registry sweep.
func (c *Conn) Receive() (string, error) {
	var msg string
	err := websocket.Message.Receive(c.ws, &msg)
	return msg, err
}
