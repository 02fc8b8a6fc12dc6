package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Options bounds per-connection resources.
type Options struct {
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int

	// MaxMessageBytes is the read limit for one inbound frame.
	MaxMessageBytes int64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub accepts WebSocket connections and feeds their frames to a Router.
type Hub struct {
	router *Router
	opts   Options

	mu    sync.RWMutex
	conns map[*Conn]*websocket.Conn
}

// NewHub creates a Hub dispatching into router.
func NewHub(router *Router, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	return &Hub{
		router: router,
		opts:   opts,
		conns:  make(map[*Conn]*websocket.Conn),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := NewConn(h.opts.SendBuffer)
	h.register(c, ws)
	slog.Debug("ws: connected", "conn", c.id, "remote", r.RemoteAddr)

	go writePump(c, ws)
	h.readPump(r.Context(), c, ws) // blocks until connection closes

	h.router.Closed(c)
	h.unregister(c)
	slog.Debug("ws: disconnected", "conn", c.id)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *Conn, ws *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = ws
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.Close()
}

// closeAll closes every outbound queue; each write pump then sends a close
// frame and tears down its socket, which ends the read pump.
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.Close()
	}
}

// readPump feeds inbound text frames to the router. Blocks until the
// connection closes.
func (h *Hub) readPump(ctx context.Context, c *Conn, ws *websocket.Conn) {
	defer ws.Close()
	ws.SetReadLimit(h.opts.MaxMessageBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read failed", "conn", c.id, "err", err)
			}
			return
		}
		h.router.Handle(ctx, c, data)
	}
}

// writePump drains the connection's queue to the socket and sends periodic
// pings. Runs in its own goroutine per client.
func writePump(c *Conn, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Queue closed: hub shutdown or client gone.
				ws.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Mark closed so broadcasts skip this member.
				c.Close()
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
