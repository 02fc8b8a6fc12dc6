package syncclient

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/docsync/docsync/pkg/protocol"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultBaseDelay    = 2 * time.Second
	DefaultMaxRetries   = 5
	DefaultWriteTimeout = 10 * time.Second
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Transport is one physical message connection. *websocket.Conn satisfies it.
// One goroutine reads while the event loop writes.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a Transport to url.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// AfterFunc runs fn after d on some goroutine and returns a func that cancels
// it. time.AfterFunc in production; a fake clock in tests.
type AfterFunc func(d time.Duration, fn func()) (cancel func())

// Options configures a Conn.
type Options struct {
	// URL is the ws:// or wss:// endpoint. See protocol.WebSocketURL.
	URL string

	// UserID labels this client's edits and cursor. Generated when empty.
	UserID string

	// BaseDelay and MaxRetries shape reconnects: attempt n waits
	// BaseDelay * 2^n, and after MaxRetries consecutive failures the
	// connection gives up.
	BaseDelay  time.Duration
	MaxRetries int

	WriteTimeout time.Duration

	Dial   DialFunc
	After  AfterFunc
	Now    func() time.Time
	Logger *slog.Logger

	// OnStateChange is called on the event loop after each transition.
	OnStateChange func(State)
}

// NewUserID returns a fresh client identity.
func NewUserID() string { return "client_" + uuid.NewString() }

// DialWebSocket dials url with the gorilla/websocket dialer.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func timeAfter(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Conn is a resilient connection to a docsync server. All state is owned by
// one event-loop goroutine started by Start; public methods enqueue work onto
// it and return immediately.
type Conn struct {
	opts       Options
	log        *slog.Logger
	dispatcher *Dispatcher
	state      atomic.Int32

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Owned by the event loop.
	ctx            context.Context
	transport      Transport
	gen            uint64
	bo             backoff.BackOff
	retries        int
	retryGen       uint64
	retryCancel    func()
	docID          string
	failedNotified bool
}

// New returns a Conn in the Disconnected state. Call Start before use.
func New(opts Options) *Conn {
	if opts.UserID == "" {
		opts.UserID = NewUserID()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.After == nil {
		opts.After = timeAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		opts:       opts,
		log:        log,
		dispatcher: NewDispatcher(log),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		bo:         newBackoff(opts.BaseDelay, opts.MaxRetries),
	}
}

// newBackoff yields base, 2*base, 4*base, ... for maxRetries attempts, then
// backoff.Stop.
func newBackoff(base time.Duration, maxRetries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = base << uint(maxRetries)
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(maxRetries))
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (c *Conn) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.ctx = ctx
	go c.run(ctx)
}

// Stop disconnects (sending leave-document for an active subscription) and
// ends the event loop. Blocks until the loop has exited.
func (c *Conn) Stop() {
	if !c.started.Load() {
		return
	}
	c.cancel()
	<-c.done
}

// State returns the current lifecycle state. Safe from any goroutine.
func (c *Conn) State() State { return State(c.state.Load()) }

// UserID returns the client identity.
func (c *Conn) UserID() string { return c.opts.UserID }

// On registers l for inbound frames of type typ. See Dispatcher.On.
func (c *Conn) On(typ string, l Listener) func() { return c.dispatcher.On(typ, l) }

// Connect opens the transport unless already connecting or open.
func (c *Conn) Connect() { c.post(c.connect) }

// Reconnect leaves Failed (or any non-live state) with a fresh retry budget.
func (c *Conn) Reconnect() {
	c.post(func() {
		if s := c.State(); s == StateOpen || s == StateConnecting {
			return
		}
		c.cancelRetry()
		c.resetRetries()
		c.setState(StateDisconnected)
		c.connect()
	})
}

// Disconnect sends leave-document for an active subscription, closes the
// transport, and cancels any pending reconnect. It is not retried.
func (c *Conn) Disconnect() { c.post(c.disconnect) }

// Send transmits f if the connection is open. Otherwise f is dropped and a
// connect is triggered (unless Failed).
func (c *Conn) Send(f protocol.Frame) { c.post(func() { c.write(f) }) }

// JoinDocument subscribes to docID, leaving any other document first. The
// subscription is re-issued automatically after every reconnect.
func (c *Conn) JoinDocument(docID string) {
	c.post(func() {
		open := c.State() == StateOpen
		if open && c.docID != "" && c.docID != docID {
			c.write(protocol.Leave(c.docID, c.opts.UserID))
		}
		c.docID = docID
		if open {
			c.write(protocol.Join(docID, c.opts.UserID))
		} else if c.State() != StateFailed {
			c.connect()
		}
	})
}

// LeaveDocument ends the active subscription.
func (c *Conn) LeaveDocument() {
	c.post(func() {
		if c.docID == "" {
			return
		}
		if c.State() == StateOpen {
			c.write(protocol.Leave(c.docID, c.opts.UserID))
		}
		c.docID = ""
	})
}

// UpdateDocument sends both fields of the subscribed document.
func (c *Conn) UpdateDocument(title, content string) {
	c.post(func() {
		if c.docID == "" {
			c.log.Warn("syncclient: update without a document, dropping")
			return
		}
		c.write(protocol.Update(c.docID, title, content))
	})
}

// SendCursor publishes this client's selection in the subscribed document.
func (c *Conn) SendCursor(r protocol.Range) {
	c.post(func() {
		if c.docID == "" {
			return
		}
		c.write(protocol.CursorUpdate(c.docID, c.opts.UserID, r, protocol.NowMillis(c.opts.Now())))
	})
}

// RemoveCursor withdraws this client's cursor from the subscribed document.
func (c *Conn) RemoveCursor() {
	c.post(func() {
		if c.docID == "" {
			return
		}
		c.write(protocol.CursorRemove(c.docID, c.opts.UserID))
	})
}

// --- event loop -------------------------------------------------------------

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.disconnect()
			return
		case <-c.wake:
			c.drain()
		}
	}
}

// drain runs queued work in FIFO order, including work queued while draining.
func (c *Conn) drain() {
	for {
		c.qmu.Lock()
		q := c.queue
		c.queue = nil
		c.qmu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}

// post enqueues fn on the event loop. Never blocks.
func (c *Conn) post(fn func()) {
	c.qmu.Lock()
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// schedule runs fn on the event loop after d.
func (c *Conn) schedule(d time.Duration, fn func()) func() {
	return c.opts.After(d, func() { c.post(fn) })
}

// --- state machine (event loop only) ----------------------------------------

func (c *Conn) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.log.Debug("syncclient: state change", "from", old, "to", s)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Conn) connect() {
	switch c.State() {
	case StateConnecting, StateOpen:
		return
	}
	c.cancelRetry()
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)

	ctx := c.ctx
	go func() {
		t, err := c.opts.Dial(ctx, c.opts.URL)
		if err == nil && ctx.Err() != nil {
			// Loop already gone.
			t.Close()
			return
		}
		c.post(func() { c.opened(gen, t, err) })
	}()
}

func (c *Conn) opened(gen uint64, t Transport, err error) {
	if gen != c.gen {
		if t != nil {
			t.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn("syncclient: dial failed", "url", c.opts.URL, "err", err)
		c.closed(gen, err)
		return
	}

	c.transport = t
	c.resetRetries()
	c.setState(StateOpen)
	c.log.Info("syncclient: connected", "url", c.opts.URL, "user", c.opts.UserID)

	go c.readLoop(gen, t)
	if c.docID != "" {
		c.write(protocol.Join(c.docID, c.opts.UserID))
	}
}

// closed handles the end of transport generation gen.
func (c *Conn) closed(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.gen++
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.setState(StateClosed)

	wait := c.bo.NextBackOff()
	if wait == backoff.Stop {
		c.setState(StateFailed)
		c.log.Error("syncclient: giving up after retries", "retries", c.retries, "err", err)
		if !c.failedNotified {
			c.failedNotified = true
			c.dispatcher.Emit(protocol.ErrorFrame(protocol.MsgConnectionLost))
		}
		return
	}

	c.retries++
	c.log.Warn("syncclient: connection lost, will reconnect",
		"err", err, "attempt", c.retries, "retry_in", wait)
	c.retryGen++
	rg := c.retryGen
	c.retryCancel = c.schedule(wait, func() {
		if rg != c.retryGen {
			return
		}
		c.retryCancel = nil
		c.connect()
	})
}

func (c *Conn) readLoop(gen uint64, t Transport) {
	for {
		_, data, err := t.ReadMessage()
		if err != nil {
			c.post(func() { c.closed(gen, err) })
			return
		}
		c.post(func() {
			if gen == c.gen {
				c.dispatcher.Dispatch(data)
			}
		})
	}
}

// write transmits f on the open transport. It reports false when f was
// dropped.
func (c *Conn) write(f protocol.Frame) bool {
	if c.State() != StateOpen || c.transport == nil {
		c.log.Warn("syncclient: not connected, dropping frame", "type", f.Type, "state", c.State())
		if c.State() != StateFailed {
			c.connect()
		}
		return false
	}
	data, err := protocol.Encode(f)
	if err != nil {
		c.log.Error("syncclient: encode failed", "type", f.Type, "err", err)
		return false
	}
	_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("syncclient: write failed", "type", f.Type, "err", err)
		c.closed(c.gen, err)
		return false
	}
	return true
}

func (c *Conn) disconnect() {
	if c.docID != "" && c.State() == StateOpen {
		c.write(protocol.Leave(c.docID, c.opts.UserID))
	}
	c.docID = ""
	c.cancelRetry()
	c.gen++
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.resetRetries()
	c.setState(StateDisconnected)
}

func (c *Conn) cancelRetry() {
	c.retryGen++
	if c.retryCancel != nil {
		c.retryCancel()
		c.retryCancel = nil
	}
}

func (c *Conn) resetRetries() {
	c.bo.Reset()
	c.retries = 0
	c.failedNotified = false
}
