package ws

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/docsync/docsync/pkg/protocol"
)

// Conn is one client connection as seen by the registry and router. Outbound
// frames go through a bounded queue drained by the hub's write pump.
type Conn struct {
	id string

	mu     sync.Mutex
	closed bool
	send   chan []byte

	// Join state. Only touched from the connection's read goroutine.
	docID  string
	userID string
}

// NewConn returns a Conn with an outbound queue of buf frames. The hub creates
// one per upgraded socket; tests drain Outbox directly.
func NewConn(buf int) *Conn {
	if buf <= 0 {
		buf = 1
	}
	return &Conn{
		id:   uuid.NewString(),
		send: make(chan []byte, buf),
	}
}

// ID returns the connection id used in logs.
func (c *Conn) ID() string { return c.id }

// Outbox returns the outbound queue. It is closed when the connection closes.
func (c *Conn) Outbox() <-chan []byte { return c.send }

// Send queues data without blocking. It reports false when the connection is
// closed or its queue is full; the frame is dropped in both cases.
func (c *Conn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		slog.Warn("ws: send queue full, dropping frame", "conn", c.id)
		return false
	}
}

// SendFrame encodes f and queues it.
func (c *Conn) SendFrame(f protocol.Frame) bool {
	data, err := protocol.Encode(f)
	if err != nil {
		slog.Error("ws: encode failed", "conn", c.id, "type", f.Type, "err", err)
		return false
	}
	return c.Send(data)
}

// Close marks the connection closed and closes the outbound queue. Safe to call
// more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Joined returns the document and user this connection is subscribed as.
// Both are empty before a successful join.
func (c *Conn) Joined() (docID, userID string) { return c.docID, c.userID }
