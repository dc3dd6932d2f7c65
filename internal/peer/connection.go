// Package peer wraps a single WebSocket transport with the outbox
// capability the hub routes envelopes through: a bounded, non-blocking,
// single-consumer send queue addressed to one peer.
package peer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// OutboxSize is the number of pending messages a connection's outbox
// holds before new sends are dropped. Fixed by the signaling contract.
const OutboxSize = 100

// writeDeadline bounds a single frame write so one wedged TCP peer
// cannot stall its writer goroutine indefinitely.
const writeDeadline = 5 * time.Second

// Outbox is the send capability the hub holds per registered peer. Send
// never blocks: when the queue is full the message is dropped and
// Dropped is incremented.
type Outbox interface {
	Send(v any) bool
}

// Connection is a single WebSocket transport plus its outbox. Exactly
// one goroutine (writeLoop) ever calls conn.WriteMessage, so concurrent
// Send calls from the hub never race on the socket.
type Connection struct {
	conn    *websocket.Conn
	writeCh chan []byte

	dropped atomic.Int64

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewConnection wraps conn and starts its writer goroutine. The caller
// owns the read side; Connection only ever writes.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, OutboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send marshals v and enqueues it for delivery, never blocking. It
// returns false if the connection is already closed, if v cannot be
// marshaled, or if the outbox is full; only the full-outbox case is
// counted in Dropped.
func (c *Connection) Send(v any) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false
	}

	select {
	case c.writeCh <- data:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns the count of envelopes dropped due to outbox overflow.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// ReadMessage reads the next text frame from the underlying transport.
// It is only ever called from the connection's single receiver task.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// SetReadDeadline forwards to the underlying transport.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetPongHandler forwards to the underlying transport.
func (c *Connection) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

// WriteControl forwards to the underlying transport with its own
// deadline, used for ping frames outside the text-frame outbox.
func (c *Connection) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return c.conn.WriteControl(messageType, data, deadline)
}

// Close cancels the writer goroutine and closes the underlying
// transport. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
