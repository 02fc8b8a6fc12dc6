package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sanity-io/litter"

	"github.com/docsync/docsync/pkg/protocol"
	"github.com/docsync/docsync/server/internal/metrics"
	"github.com/docsync/docsync/server/internal/store"
)

// Router handles inbound frames for one server. Handle is called from each
// connection's read goroutine, so frames from one connection are processed in
// arrival order.
type Router struct {
	reg     *Registry
	store   store.Store
	metrics *metrics.Collector
	now     func() time.Time
}

// NewRouter returns a Router dispatching into reg and persisting through st.
func NewRouter(reg *Registry, st store.Store, m *metrics.Collector) *Router {
	return &Router{
		reg:     reg,
		store:   st,
		metrics: m,
		now:     time.Now,
	}
}

// Registry returns the room registry the router dispatches into.
func (rt *Router) Registry() *Registry { return rt.reg }

// Handle decodes and dispatches one inbound frame from c.
func (rt *Router) Handle(ctx context.Context, c *Conn, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("ws: malformed frame", "conn", c.id, "err", err)
		rt.metrics.FrameIn("malformed")
		rt.sendError(c, protocol.MsgInvalidFormat)
		return
	}

	switch f.Type {
	case protocol.TypeJoinDocument:
		rt.metrics.FrameIn(f.Type)
		rt.join(ctx, c, f)
	case protocol.TypeUpdatedDocument:
		rt.metrics.FrameIn(f.Type)
		rt.update(ctx, c, f)
	case protocol.TypeLeaveDocument:
		rt.metrics.FrameIn(f.Type)
		rt.leave(c, f)
	case protocol.TypeCursorUpdate:
		rt.metrics.FrameIn(f.Type)
		rt.cursorUpdate(c, f)
	case protocol.TypeCursorRemove:
		rt.metrics.FrameIn(f.Type)
		rt.cursorRemove(c, f)
	default:
		rt.metrics.FrameIn("unknown")
		slog.Warn("ws: unknown frame type", "conn", c.id, "type", f.Type)
		if slog.Default().Enabled(ctx, slog.LevelDebug) {
			slog.Debug("ws: unknown frame", "conn", c.id, "frame", litter.Sdump(f))
		}
	}
}

// Closed releases c's subscription after its transport has gone away.
func (rt *Router) Closed(c *Conn) {
	if c.docID == "" {
		return
	}
	rt.reg.Leave(c.docID, c, c.userID, protocol.TypeUserDisconnected)
	c.docID, c.userID = "", ""
}

func (rt *Router) join(ctx context.Context, c *Conn, f protocol.Frame) {
	if f.DocumentID == "" {
		rt.sendError(c, protocol.MsgNotFound)
		return
	}
	// One subscription per connection.
	if c.docID != "" && c.docID != f.DocumentID {
		rt.reg.Leave(c.docID, c, c.userID, protocol.TypeUserLeft)
		c.docID, c.userID = "", ""
	}
	if err := rt.reg.Join(ctx, f.DocumentID, f.UserID, c); err != nil {
		return
	}
	c.docID, c.userID = f.DocumentID, f.UserID
}

func (rt *Router) update(ctx context.Context, c *Conn, f protocol.Frame) {
	if f.DocumentID == "" || !rt.reg.IsMember(f.DocumentID, c) {
		rt.sendError(c, protocol.MsgMustJoin)
		return
	}

	doc, err := rt.store.Save(ctx, f.DocumentID, store.Patch{Title: f.Title, Content: f.Content})
	if err != nil {
		msg := protocol.MsgUpdateFailed
		if errors.Is(err, store.ErrTooLarge) {
			msg = protocol.MsgTooLarge
		}
		slog.Error("ws: save document failed", "doc", f.DocumentID, "conn", c.id, "err", err)
		rt.sendError(c, msg)
		return
	}

	rt.reg.Broadcast(f.DocumentID, c, protocol.DocumentFrame(protocol.TypeDocumentUpdated, snapshot(doc)))
	c.SendFrame(protocol.UpdateConfirmed(f.DocumentID, doc.UpdatedAt))
}

func (rt *Router) leave(c *Conn, f protocol.Frame) {
	docID := f.DocumentID
	if docID == "" {
		docID = c.docID
	}
	userID := f.UserID
	if userID == "" || docID == c.docID {
		userID = c.userID
	}
	if docID == "" {
		return
	}
	rt.reg.Leave(docID, c, userID, protocol.TypeUserLeft)
	if docID == c.docID {
		c.docID, c.userID = "", ""
	}
}

func (rt *Router) cursorUpdate(c *Conn, f protocol.Frame) {
	if f.DocumentID == "" || f.UserID == "" || f.Range == nil {
		rt.sendError(c, protocol.MsgInvalidCursor)
		return
	}
	if !rt.reg.IsMember(f.DocumentID, c) {
		rt.sendError(c, protocol.MsgMustJoin)
		return
	}
	if f.UserID != c.userID {
		rt.sendError(c, protocol.MsgForeignCursor)
		return
	}
	ts := f.Timestamp
	if ts == 0 {
		ts = protocol.NowMillis(rt.now())
	}
	cs := CursorState{UserID: f.UserID, Range: *f.Range, Timestamp: ts}
	if err := rt.reg.UpdateCursor(f.DocumentID, c, cs); err != nil {
		rt.sendError(c, protocol.MsgMustJoin)
	}
}

func (rt *Router) cursorRemove(c *Conn, f protocol.Frame) {
	docID := f.DocumentID
	if docID == "" {
		docID = c.docID
	}
	if docID == "" || !rt.reg.IsMember(docID, c) {
		rt.sendError(c, protocol.MsgMustJoin)
		return
	}
	if err := rt.reg.RemoveCursor(docID, c, c.userID); err != nil {
		rt.sendError(c, protocol.MsgMustJoin)
	}
}

func (rt *Router) sendError(c *Conn, msg string) {
	rt.metrics.ErrorSent(msg)
	c.SendFrame(protocol.ErrorFrame(msg))
}
