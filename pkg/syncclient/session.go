package syncclient

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docsync/docsync/pkg/protocol"
)

// Session defaults.
const (
	DefaultEditDelay   = 800 * time.Millisecond
	DefaultCursorDelay = 100 * time.Millisecond

	InfoNoticeDuration        = 3 * time.Second
	ErrorNoticeDuration       = 3 * time.Second
	PersistenceNoticeDuration = 6 * time.Second
)

// MsgRemoteUpdate is the notice shown when a peer's edit replaces local text.
const MsgRemoteUpdate = "Document updated by another user"

// EchoState tracks the last local change between debounce and echo.
type EchoState int

const (
	EchoIdle EchoState = iota
	EchoPendingLocalSend
	EchoAwaitingEcho
)

func (s EchoState) String() string {
	switch s {
	case EchoIdle:
		return "idle"
	case EchoPendingLocalSend:
		return "pending-local-send"
	case EchoAwaitingEcho:
		return "awaiting-echo"
	}
	return "unknown"
}

// NoticeKind classifies a transient user-facing notice.
type NoticeKind string

const (
	NoticeInfo  NoticeKind = "info"
	NoticeError NoticeKind = "error"
)

// Notice is a transient message for the user, shown for Duration.
type Notice struct {
	Kind     NoticeKind
	Message  string
	Duration time.Duration
}

// CursorState is a peer's selection in the session's document.
type CursorState struct {
	UserID    string
	Range     protocol.Range
	Timestamp int64
}

// SessionOptions configures a Session. Hooks run on the connection's event
// loop and must not block.
type SessionOptions struct {
	EditDelay   time.Duration
	CursorDelay time.Duration

	// OnRemoteUpdate receives text that replaced the local copy: the snapshot
	// on join and every peer edit.
	OnRemoteUpdate func(title, content string)
	OnNotice       func(Notice)
	OnPresence     func(activeUsers int)
	// OnCursor receives a peer's cursor, or nil when it is removed.
	OnCursor func(userID string, cs *CursorState)
	OnSaved  func(at time.Time)
}

// sessionTypes are the frame types a Session listens for.
var sessionTypes = []string{
	protocol.TypeDocumentJoined,
	protocol.TypeDocumentUpdated,
	protocol.TypeUpdateConfirmed,
	protocol.TypeUserJoined,
	protocol.TypeUserLeft,
	protocol.TypeUserDisconnected,
	protocol.TypeCursorUpdate,
	protocol.TypeCursorRemove,
	protocol.TypeError,
}

// Session binds one Conn to one document: it debounces local edits and cursor
// moves, suppresses echoes of its own sends, and tracks peers.
type Session struct {
	conn   *Conn
	core   *session
	unsubs []func()
}

// NewSession joins docID on c and starts tracking it.
func NewSession(c *Conn, docID string, opts SessionOptions) *Session {
	core := newSession(docID, c.UserID(), opts, c.write, c.schedule, c.opts.Now, c.log)
	s := &Session{conn: c, core: core}
	for _, typ := range sessionTypes {
		s.unsubs = append(s.unsubs, c.On(typ, core.handle))
	}
	c.JoinDocument(docID)
	return s
}

// DocumentID returns the session's document.
func (s *Session) DocumentID() string { return s.core.docID }

// Edit records the local title and content. A send follows after the edit
// delay if nothing else changes.
func (s *Session) Edit(title, content string) {
	s.conn.post(func() { s.core.edit(title, content) })
}

// EditTitle replaces the local title and keeps the current content.
func (s *Session) EditTitle(title string) {
	s.conn.post(func() { s.core.editTitle(title) })
}

// EditContent replaces the local content and keeps the current title.
func (s *Session) EditContent(content string) {
	s.conn.post(func() { s.core.editContent(content) })
}

// MoveCursor publishes the local selection after the cursor delay.
func (s *Session) MoveCursor(r protocol.Range) {
	s.conn.post(func() { s.core.moveCursor(r) })
}

// HideCursor withdraws the local cursor immediately, e.g. when the view is
// hidden.
func (s *Session) HideCursor() {
	s.conn.post(s.core.hideCursor)
}

// State returns the echo state.
func (s *Session) State() EchoState { return s.core.echoState() }

// Text returns the local title and content.
func (s *Session) Text() (title, content string) { return s.core.text() }

// ActiveUsers returns the last reported member count.
func (s *Session) ActiveUsers() int { return s.core.activeUsers() }

// Cursors returns peer cursors ordered by user id.
func (s *Session) Cursors() []CursorState { return s.core.peerCursors() }

// LastSaved returns the server time of the last confirmed save.
func (s *Session) LastSaved() time.Time { return s.core.savedAt() }

// Close stops tracking and leaves the document.
func (s *Session) Close() {
	for _, off := range s.unsubs {
		off()
	}
	s.unsubs = nil
	s.conn.post(s.core.close)
	s.conn.LeaveDocument()
}

// --- core -------------------------------------------------------------------

type docText struct {
	title   string
	content string
}

// session is the event-loop side of a Session. Its dependencies are injected
// so it can be driven directly in tests.
type session struct {
	docID  string
	userID string
	opts   SessionOptions
	send   func(protocol.Frame) bool
	after  AfterFunc
	now    func() time.Time
	log    *slog.Logger

	// Event loop only.
	synced       docText  // last text sent or received
	pending      *docText // last text sent and not yet echoed
	editGen      uint64
	editCancel   func()
	cursorGen    uint64
	cursorCancel func()
	nextCursor   *protocol.Range
	applying     int // remote rewrites in progress

	mu      sync.Mutex
	state   EchoState
	local   docText
	active  int
	cursors map[string]CursorState
	saved   time.Time
}

func newSession(docID, userID string, opts SessionOptions, send func(protocol.Frame) bool, after AfterFunc, now func() time.Time, log *slog.Logger) *session {
	if opts.EditDelay <= 0 {
		opts.EditDelay = DefaultEditDelay
	}
	if opts.CursorDelay <= 0 {
		opts.CursorDelay = DefaultCursorDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &session{
		docID:   docID,
		userID:  userID,
		opts:    opts,
		send:    send,
		after:   after,
		now:     now,
		log:     log.With("doc", docID),
		cursors: make(map[string]CursorState),
	}
}

func (s *session) edit(title, content string) {
	t := docText{title: title, content: content}
	s.mu.Lock()
	s.local = t
	s.mu.Unlock()

	s.cancelEdit()
	if t == s.synced {
		s.setState(EchoIdle)
		return
	}
	s.setState(EchoPendingLocalSend)
	s.editGen++
	gen := s.editGen
	s.editCancel = s.after(s.opts.EditDelay, func() {
		if gen != s.editGen {
			return
		}
		s.editCancel = nil
		s.flushEdit()
	})
}

// editTitle and editContent read the other field on the loop, after every
// earlier edit has been applied.
func (s *session) editTitle(title string) {
	_, content := s.text()
	s.edit(title, content)
}

func (s *session) editContent(content string) {
	title, _ := s.text()
	s.edit(title, content)
}

func (s *session) flushEdit() {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()

	if local == s.synced {
		s.setState(EchoIdle)
		return
	}
	if !s.send(protocol.Update(s.docID, local.title, local.content)) {
		s.setState(EchoIdle)
		return
	}
	s.pending = &local
	s.synced = local
	s.setState(EchoAwaitingEcho)
}

func (s *session) moveCursor(r protocol.Range) {
	if s.applying > 0 {
		return
	}
	s.nextCursor = &r
	s.cancelCursor()
	s.cursorGen++
	gen := s.cursorGen
	s.cursorCancel = s.after(s.opts.CursorDelay, func() {
		if gen != s.cursorGen {
			return
		}
		s.cursorCancel = nil
		s.flushCursor()
	})
}

func (s *session) flushCursor() {
	if s.nextCursor == nil {
		return
	}
	r := *s.nextCursor
	s.nextCursor = nil
	s.send(protocol.CursorUpdate(s.docID, s.userID, r, protocol.NowMillis(s.now())))
}

func (s *session) hideCursor() {
	s.cancelCursor()
	s.nextCursor = nil
	s.send(protocol.CursorRemove(s.docID, s.userID))
}

func (s *session) close() {
	s.cancelEdit()
	s.cancelCursor()
	s.nextCursor = nil
}

// handle is the dispatcher listener for every type in sessionTypes.
func (s *session) handle(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeDocumentJoined:
		if f.Document == nil || f.Document.ID != s.docID {
			return
		}
		s.pending = nil
		s.applyRemote(*f.Document)
		s.setState(EchoIdle)
		if f.ActiveUsers > 0 {
			s.setActive(f.ActiveUsers)
		}

	case protocol.TypeDocumentUpdated:
		if f.Document == nil || f.Document.ID != s.docID {
			return
		}
		in := docText{title: f.Document.Title, content: f.Document.Content}
		// Exact comparison: a peer edit identical to our last send is
		// indistinguishable from our own echo.
		if s.pending != nil && *s.pending == in {
			s.pending = nil
			if s.echoState() == EchoAwaitingEcho {
				s.setState(EchoIdle)
			}
			s.log.Debug("syncclient: echo consumed")
			return
		}
		if s.echoState() == EchoPendingLocalSend {
			if s.pending != nil {
				s.setState(EchoAwaitingEcho)
			} else {
				s.setState(EchoIdle)
			}
		}
		s.applyRemote(*f.Document)
		s.notify(Notice{Kind: NoticeInfo, Message: MsgRemoteUpdate, Duration: InfoNoticeDuration})

	case protocol.TypeUpdateConfirmed:
		if f.DocumentID != s.docID || f.UpdatedAt == nil {
			return
		}
		s.mu.Lock()
		s.saved = *f.UpdatedAt
		s.mu.Unlock()
		if s.opts.OnSaved != nil {
			s.opts.OnSaved(*f.UpdatedAt)
		}

	case protocol.TypeUserJoined:
		if f.DocumentID != s.docID {
			return
		}
		s.setActive(f.ActiveUsers)

	case protocol.TypeUserLeft, protocol.TypeUserDisconnected:
		if f.DocumentID != s.docID {
			return
		}
		s.dropCursor(f.UserID)
		s.setActive(f.ActiveUsers)

	case protocol.TypeCursorUpdate:
		if f.DocumentID != s.docID || f.UserID == "" || f.UserID == s.userID || f.Range == nil {
			return
		}
		cs := CursorState{UserID: f.UserID, Range: *f.Range, Timestamp: f.Timestamp}
		s.mu.Lock()
		s.cursors[f.UserID] = cs
		s.mu.Unlock()
		if s.opts.OnCursor != nil {
			s.opts.OnCursor(f.UserID, &cs)
		}

	case protocol.TypeCursorRemove:
		if f.DocumentID != s.docID || f.UserID == s.userID {
			return
		}
		s.dropCursor(f.UserID)

	case protocol.TypeError:
		d := ErrorNoticeDuration
		if protocol.IsPersistenceError(f.Message) {
			d = PersistenceNoticeDuration
		}
		s.notify(Notice{Kind: NoticeError, Message: f.Message, Duration: d})
	}
}

// applyRemote overwrites local text with doc and drops any debounced edit.
// Cursor moves reported while the hook runs are ignored.
func (s *session) applyRemote(doc protocol.Document) {
	s.cancelEdit()
	t := docText{title: doc.Title, content: doc.Content}
	s.synced = t
	s.mu.Lock()
	s.local = t
	s.mu.Unlock()

	if s.opts.OnRemoteUpdate == nil {
		return
	}
	s.applying++
	s.opts.OnRemoteUpdate(t.title, t.content)
	// Cleared behind any work the hook queued.
	s.after(0, func() { s.applying-- })
}

func (s *session) dropCursor(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	_, ok := s.cursors[userID]
	delete(s.cursors, userID)
	s.mu.Unlock()
	if ok && s.opts.OnCursor != nil {
		s.opts.OnCursor(userID, nil)
	}
}

func (s *session) setActive(n int) {
	s.mu.Lock()
	s.active = n
	s.mu.Unlock()
	if s.opts.OnPresence != nil {
		s.opts.OnPresence(n)
	}
}

func (s *session) notify(n Notice) {
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(n)
	}
}

func (s *session) cancelEdit() {
	s.editGen++
	if s.editCancel != nil {
		s.editCancel()
		s.editCancel = nil
	}
}

func (s *session) cancelCursor() {
	s.cursorGen++
	if s.cursorCancel != nil {
		s.cursorCancel()
		s.cursorCancel = nil
	}
}

func (s *session) setState(st EchoState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// --- views, safe from any goroutine -----------------------------------------

func (s *session) echoState() EchoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) text() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.title, s.local.content
}

func (s *session) activeUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *session) savedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func (s *session) peerCursors() []CursorState {
	s.mu.Lock()
	out := make([]CursorState, 0, len(s.cursors))
	for _, cs := range s.cursors {
		out = append(out, cs)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
