package syncclient

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docsync/docsync/pkg/protocol"
)

// --- fake clock -------------------------------------------------------------

type fakeTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

// fakeClock is an AfterFunc whose timers fire only on Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	tm := &fakeTimer{at: c.now + d, seq: c.seq, fn: fn}
	c.timers = append(c.timers, tm)
	c.delays = append(c.delays, d)
	return func() {
		c.mu.Lock()
		tm.stopped = true
		c.mu.Unlock()
	}
}

// Advance moves time forward by d, firing due timers in order. Timers
// scheduled by fired callbacks fire too if they fall within the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now + d
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].at != c.timers[j].at {
				return c.timers[i].at < c.timers[j].at
			}
			return c.timers[i].seq < c.timers[j].seq
		})
		var due *fakeTimer
		for i, tm := range c.timers {
			if tm.stopped {
				continue
			}
			if tm.at <= end {
				due = tm
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if due == nil {
			c.now = end
			c.timers = live(c.timers)
			c.mu.Unlock()
			return
		}
		c.now = due.at
		c.mu.Unlock()
		due.fn()
	}
}

// Pending returns the number of live timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(live(c.timers))
}

// Next returns the delay until the earliest live timer.
func (c *fakeClock) Next() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next time.Duration = -1
	for _, tm := range c.timers {
		if !tm.stopped && (next < 0 || tm.at-c.now < next) {
			next = tm.at - c.now
		}
	}
	return next
}

// Delays returns every delay ever requested, in order.
func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func live(ts []*fakeTimer) []*fakeTimer {
	out := ts[:0]
	for _, tm := range ts {
		if !tm.stopped {
			out = append(out, tm)
		}
	}
	return out
}

// --- fake transport ---------------------------------------------------------

var errClosed = errors.New("transport closed")

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case d := <-f.in:
		return websocket.TextMessage, d, nil
	case <-f.closed:
		return 0, nil, errClosed
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errClosed
	default:
	}
	select {
	case f.out <- data:
		return nil
	default:
		return errors.New("out buffer full")
	}
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// push delivers f to the client as if sent by the server.
func (f *fakeTransport) push(fr protocol.Frame) { f.in <- protocol.MustEncode(fr) }

// --- fake dialer ------------------------------------------------------------

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns chan *fakeTransport
}

func newFakeDialer(fail bool) *fakeDialer {
	return &fakeDialer{fail: fail, conns: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.conns <- t
	return t, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// next returns the transport from the next successful dial.
func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case ft := <-d.conns:
		return ft
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

// waitFor polls cond until it holds or fails the test.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// written returns the next frame the client wrote to ft.
func written(t *testing.T, ft *fakeTransport) protocol.Frame {
	t.Helper()
	select {
	case data := <-ft.out:
		f, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client write")
	}
	return protocol.Frame{}
}

func expectNoWrite(t *testing.T, ft *fakeTransport) {
	t.Helper()
	select {
	case data := <-ft.out:
		t.Fatalf("unexpected write: %s", data)
	default:
	}
}

// --- loop sync --------------------------------------------------------------

// call runs fn on c's event loop and waits for it, so earlier posted work has
// completed. Must not be called from the loop itself.
func (c *Conn) call(fn func()) bool {
	ran := make(chan struct{})
	c.post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-c.done:
		return false
	}
}
