package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/gorilla/websocket"
)

// conn adapts a gorilla connection to registry.Conn. gorilla allows one
// concurrent writer for data messages, so those go through mu; close frames
// use WriteControl, which is safe alongside them.
type conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, writeWait time.Duration) *conn {
	return &conn{ws: ws, writeWait: writeWait}
}

func (c *conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// Send writes msg as one JSON text message.
func (c *conn) Send(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.TextMessage, b)
}

func (c *conn) Ping(ctx context.Context) error {
	return c.write(ctx, websocket.PingMessage, nil)
}

func (c *conn) write(ctx context.Context, kind int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return common.ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(kind, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *conn) Open() bool {
	return !c.closed.Load()
}

func (c *conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// closeWith sends a close frame with code and reason, then drops the socket.
func (c *conn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))

		err = c.ws.Close()
	})
	return err
}
