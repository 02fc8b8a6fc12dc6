package syncclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docsync/docsync/pkg/protocol"
)

// --- helpers ----------------------------------------------------------------

type states struct {
	mu  sync.Mutex
	seq []State
}

func (s *states) record(st State) {
	s.mu.Lock()
	s.seq = append(s.seq, st)
	s.mu.Unlock()
}

func (s *states) contains(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.seq {
		if x == st {
			return true
		}
	}
	return false
}

// startConn builds a started Conn wired to a fake dialer and clock.
func startConn(t *testing.T, d *fakeDialer) (*Conn, *fakeClock, *states) {
	t.Helper()
	clock := &fakeClock{}
	st := &states{}
	c := New(Options{
		URL:           "ws://test/ws",
		UserID:        "client_test",
		Dial:          d.Dial,
		After:         clock.After,
		Now:           func() time.Time { return time.UnixMilli(1_000) },
		OnStateChange: st.record,
	})
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c, clock, st
}

func waitState(t *testing.T, c *Conn, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

// open connects c and returns the server side of the transport.
func open(t *testing.T, c *Conn, d *fakeDialer) *fakeTransport {
	t.Helper()
	c.Connect()
	ft := d.next(t)
	waitState(t, c, StateOpen)
	return ft
}

// --- tests ------------------------------------------------------------------

func TestConn_BackoffSequenceThenFailed(t *testing.T) {
	d := newFakeDialer(true)
	c, clock, _ := startConn(t, d)

	var mu sync.Mutex
	var errs []string
	c.On(protocol.TypeError, func(f protocol.Frame) {
		mu.Lock()
		errs = append(errs, f.Message)
		mu.Unlock()
	})

	c.Connect()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	for i, delay := range want {
		waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })
		if got := clock.Next(); got != delay {
			t.Fatalf("retry %d: delay %v, want %v", i+1, got, delay)
		}
		if c.State() != StateClosed {
			t.Errorf("retry %d: state %v, want closed", i+1, c.State())
		}
		clock.Advance(delay)
	}

	waitState(t, c, StateFailed)
	c.call(func() {})

	if got := clock.Delays(); len(got) != len(want) {
		t.Errorf("delays: got %v, want %v", got, want)
	}
	if n := d.count(); n != 6 {
		t.Errorf("dials: got %d, want 6", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || errs[0] != protocol.MsgConnectionLost {
		t.Errorf("error notifications: got %v, want one %q", errs, protocol.MsgConnectionLost)
	}
}

func TestConn_FailedIsTerminalForSend(t *testing.T) {
	d := newFakeDialer(true)
	c, clock, _ := startConn(t, d)

	c.Connect()
	for i := 0; i < DefaultMaxRetries; i++ {
		waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })
		clock.Advance(clock.Next())
	}
	waitState(t, c, StateFailed)
	dials := d.count()

	c.Send(protocol.Join("doc-1", "x"))
	c.call(func() {})
	if d.count() != dials {
		t.Errorf("send from Failed dialled again")
	}
	if c.State() != StateFailed {
		t.Errorf("state: got %v, want failed", c.State())
	}
}

func TestConn_ReconnectLeavesFailed(t *testing.T) {
	d := newFakeDialer(true)
	c, clock, _ := startConn(t, d)

	c.Connect()
	for i := 0; i < DefaultMaxRetries; i++ {
		waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })
		clock.Advance(clock.Next())
	}
	waitState(t, c, StateFailed)

	d.setFail(false)
	c.Reconnect()
	d.next(t)
	waitState(t, c, StateOpen)
}

func TestConn_OpenRejoinsAndResetsRetries(t *testing.T) {
	d := newFakeDialer(false)
	c, clock, _ := startConn(t, d)

	c.JoinDocument("doc-1") // not open yet: remembered and connects
	ft := d.next(t)
	waitState(t, c, StateOpen)
	if f := written(t, ft); f.Type != protocol.TypeJoinDocument || f.DocumentID != "doc-1" || f.UserID != "client_test" {
		t.Fatalf("first write: got %+v, want join-document", f)
	}

	// Server drops: one retry at the base delay, then a rejoin.
	ft.Close()
	waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })
	if got := clock.Next(); got != 2*time.Second {
		t.Errorf("first retry: got %v, want 2s", got)
	}
	clock.Advance(2 * time.Second)
	ft2 := d.next(t)
	if f := written(t, ft2); f.Type != protocol.TypeJoinDocument || f.DocumentID != "doc-1" {
		t.Fatalf("after reconnect: got %+v, want join-document", f)
	}

	// A successful open reset the counter, so the next drop waits 2s again.
	ft2.Close()
	waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })
	if got := clock.Next(); got != 2*time.Second {
		t.Errorf("retry after reopen: got %v, want 2s", got)
	}
}

func TestConn_SendWhenNotOpenTriggersConnect(t *testing.T) {
	d := newFakeDialer(false)
	c, _, st := startConn(t, d)

	c.Send(protocol.Leave("doc-1", "client_test"))
	ft := d.next(t)
	waitState(t, c, StateOpen)

	// The triggering frame was dropped, not queued.
	c.call(func() {})
	expectNoWrite(t, ft)
	if !st.contains(StateConnecting) {
		t.Error("never passed through connecting")
	}
}

func TestConn_ConnectIsNoopWhenOpen(t *testing.T) {
	d := newFakeDialer(false)
	c, _, _ := startConn(t, d)
	open(t, c, d)

	c.Connect()
	c.Connect()
	c.call(func() {})
	if n := d.count(); n != 1 {
		t.Errorf("dials: got %d, want 1", n)
	}
}

func TestConn_DisconnectSendsLeaveAndCancelsRetry(t *testing.T) {
	d := newFakeDialer(false)
	c, clock, _ := startConn(t, d)
	ft := open(t, c, d)

	c.JoinDocument("doc-1")
	written(t, ft) // join

	c.Disconnect()
	c.call(func() {})
	f := written(t, ft)
	if f.Type != protocol.TypeLeaveDocument || f.DocumentID != "doc-1" {
		t.Errorf("got %+v, want leave-document", f)
	}
	if !ft.isClosed() {
		t.Error("transport not closed")
	}
	if c.State() != StateDisconnected {
		t.Errorf("state: got %v, want disconnected", c.State())
	}
	if clock.Pending() != 0 {
		t.Errorf("pending timers after disconnect: %d", clock.Pending())
	}
}

func TestConn_DisconnectCancelsPendingRetry(t *testing.T) {
	d := newFakeDialer(true)
	c, clock, _ := startConn(t, d)

	c.Connect()
	waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })
	c.Disconnect()
	c.call(func() {})

	if clock.Pending() != 0 {
		t.Fatalf("retry timer still pending")
	}
	clock.Advance(time.Minute)
	c.call(func() {})
	if n := d.count(); n != 1 {
		t.Errorf("dials after disconnect: got %d, want 1", n)
	}
}

func TestConn_DispatchesInboundFrames(t *testing.T) {
	d := newFakeDialer(false)
	c, _, _ := startConn(t, d)

	got := make(chan protocol.Frame, 4)
	c.On(protocol.TypeUserJoined, func(f protocol.Frame) { got <- f })

	ft := open(t, c, d)
	ft.in <- []byte("not json") // dropped
	ft.push(protocol.Presence(protocol.TypeUserJoined, "doc-1", "", 3))

	select {
	case f := <-got:
		if f.ActiveUsers != 3 {
			t.Errorf("activeUsers: got %d, want 3", f.ActiveUsers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
}

func TestConn_ConvenienceSenders(t *testing.T) {
	d := newFakeDialer(false)
	c, _, _ := startConn(t, d)
	ft := open(t, c, d)

	c.UpdateDocument("t", "c") // no document yet: dropped
	c.JoinDocument("doc-1")
	c.UpdateDocument("T", "C")
	c.SendCursor(protocol.Range{Index: 2, Length: 1})
	c.RemoveCursor()
	c.JoinDocument("doc-2")
	c.LeaveDocument()

	wantTypes := []string{
		protocol.TypeJoinDocument,
		protocol.TypeUpdatedDocument,
		protocol.TypeCursorUpdate,
		protocol.TypeCursorRemove,
		protocol.TypeLeaveDocument, // doc-1
		protocol.TypeJoinDocument,  // doc-2
		protocol.TypeLeaveDocument, // doc-2
	}
	for i, want := range wantTypes {
		f := written(t, ft)
		if f.Type != want {
			t.Fatalf("write %d: got %q, want %q", i, f.Type, want)
		}
		if f.Type == protocol.TypeCursorUpdate && (f.Timestamp != 1_000 || f.Range.Index != 2) {
			t.Errorf("cursor frame: got %+v", f)
		}
		if f.Type == protocol.TypeUpdatedDocument && (*f.Title != "T" || *f.Content != "C") {
			t.Errorf("update frame: got %+v", f)
		}
	}
	c.call(func() {})
	expectNoWrite(t, ft)
}

func TestConn_StopSendsLeave(t *testing.T) {
	d := newFakeDialer(false)
	clock := &fakeClock{}
	c := New(Options{URL: "ws://test/ws", Dial: d.Dial, After: clock.After})
	c.Start(context.Background())

	c.JoinDocument("doc-1")
	ft := d.next(t)
	waitState(t, c, StateOpen)
	written(t, ft)

	c.Stop()
	if f := written(t, ft); f.Type != protocol.TypeLeaveDocument {
		t.Errorf("got %+v, want leave-document", f)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state after Stop: got %v", c.State())
	}
}

func TestNew_GeneratesUserID(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	if a.UserID() == "" || a.UserID() == b.UserID() {
		t.Errorf("user ids: %q, %q", a.UserID(), b.UserID())
	}
	if len(a.UserID()) < len("client_") || a.UserID()[:7] != "client_" {
		t.Errorf("user id prefix: %q", a.UserID())
	}
}

func TestNewBackoff_Sequence(t *testing.T) {
	bo := newBackoff(2*time.Second, 5)
	for round := 0; round < 2; round++ {
		for i, want := range []time.Duration{2, 4, 8, 16, 32} {
			if got := bo.NextBackOff(); got != want*time.Second {
				t.Errorf("round %d attempt %d: got %v, want %v", round, i+1, got, want*time.Second)
			}
		}
		if got := bo.NextBackOff(); got >= 0 {
			t.Errorf("round %d: 6th attempt got %v, want Stop", round, got)
		}
		bo.Reset()
	}
}
