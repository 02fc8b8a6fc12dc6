package ws

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/docsync/docsync/pkg/protocol"
	"github.com/docsync/docsync/server/internal/metrics"
	"github.com/docsync/docsync/server/internal/store"
)

// ErrNotMember is returned for room operations by a connection that has not
// joined the document.
var ErrNotMember = errors.New("ws: connection is not a member of the document")

// Publisher forwards frames to other server nodes. Implemented by the relay.
type Publisher interface {
	Publish(ctx context.Context, docID string, data []byte) error
}

// CursorState is one user's ephemeral selection in a document.
type CursorState struct {
	UserID    string
	Range     protocol.Range
	Timestamp int64
}

// RoomStats describes one live room.
type RoomStats struct {
	DocumentID string `json:"document_id"`
	Members    int    `json:"members"`
	Cursors    int    `json:"cursors"`
}

// room is the member set and cursor table for one document. Fields are guarded
// by mu. A dead room has been removed from the registry and must not gain
// members.
type room struct {
	id      string
	mu      sync.Mutex
	dead    bool
	members mapset.Set[*Conn]
	cursors map[string]CursorState
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: mapset.NewThreadUnsafeSet[*Conn](),
		cursors: make(map[string]CursorState),
	}
}

// Registry maps document ids to rooms. The registry lock covers only the map;
// each room has its own lock, so broadcasts in different rooms never contend.
type Registry struct {
	store   store.Store
	metrics *metrics.Collector

	pubMu     sync.RWMutex
	publisher Publisher

	mu    sync.Mutex
	rooms map[string]*room
}

// NewRegistry creates an empty registry backed by st. m may be nil.
func NewRegistry(st store.Store, m *metrics.Collector) *Registry {
	return &Registry{
		store:   st,
		metrics: m,
		rooms:   make(map[string]*room),
	}
}

// SetPublisher enables cross-node fan-out of document and cursor frames.
func (r *Registry) SetPublisher(p Publisher) {
	r.pubMu.Lock()
	r.publisher = p
	r.pubMu.Unlock()
}

// Join subscribes c to docID as userID. The document is loaded before any lock
// is taken. On failure an error frame goes to c alone and the registry is left
// untouched.
func (r *Registry) Join(ctx context.Context, docID, userID string, c *Conn) error {
	doc, err := r.store.Load(ctx, docID)
	if err != nil {
		msg := protocol.MsgJoinFailed
		if errors.Is(err, store.ErrNotFound) {
			msg = protocol.MsgNotFound
		} else {
			slog.Error("ws: load document failed", "doc", docID, "err", err)
		}
		r.sendError(c, msg)
		return err
	}

	rm := r.acquire(docID)
	defer rm.mu.Unlock()

	rejoin := rm.members.Contains(c)
	rm.members.Add(c)
	count := rm.members.Cardinality()

	joinedFrame := protocol.DocumentFrame(protocol.TypeDocumentJoined, snapshot(doc))
	joinedFrame.ActiveUsers = count
	c.SendFrame(joinedFrame)
	for _, cs := range sortedCursors(rm.cursors) {
		if cs.UserID == userID {
			continue
		}
		c.SendFrame(protocol.CursorUpdate(docID, cs.UserID, cs.Range, cs.Timestamp))
	}
	if !rejoin {
		r.broadcastLocked(rm, c, protocol.MustEncode(protocol.Presence(protocol.TypeUserJoined, docID, "", count)))
	}
	slog.Info("ws: joined", "doc", docID, "user", userID, "conn", c.id, "active", count)
	return nil
}

// Leave removes c from docID. kind is protocol.TypeUserLeft for an explicit
// leave or protocol.TypeUserDisconnected for a dropped transport. The user's
// cursor is removed and the remaining members are told. An emptied room is
// deleted.
func (r *Registry) Leave(docID string, c *Conn, userID, kind string) {
	rm := r.lookup(docID)
	if rm == nil {
		return
	}

	var relay []byte
	rm.mu.Lock()
	if !rm.members.Contains(c) {
		rm.mu.Unlock()
		return
	}
	rm.members.Remove(c)
	count := rm.members.Cardinality()

	if count == 0 {
		rm.dead = true
		rm.mu.Unlock()
		r.mu.Lock()
		if r.rooms[docID] == rm {
			delete(r.rooms, docID)
		}
		r.mu.Unlock()
		slog.Info("ws: room closed", "doc", docID)
		return
	}

	if _, ok := rm.cursors[userID]; ok && userID != "" {
		delete(rm.cursors, userID)
		relay = protocol.MustEncode(protocol.CursorRemove(docID, userID))
		r.broadcastLocked(rm, c, relay)
	}
	r.broadcastLocked(rm, c, protocol.MustEncode(protocol.Presence(kind, docID, userID, count)))
	rm.mu.Unlock()

	slog.Info("ws: left", "doc", docID, "user", userID, "conn", c.id, "kind", kind, "active", count)
	if relay != nil {
		r.publish(docID, relay)
	}
}

// Broadcast queues f to every member of docID except sender and returns the
// number of members it was queued to. Document and cursor frames are also
// published to other nodes when a publisher is set.
func (r *Registry) Broadcast(docID string, sender *Conn, f protocol.Frame) int {
	data, err := protocol.Encode(f)
	if err != nil {
		slog.Error("ws: encode broadcast failed", "doc", docID, "type", f.Type, "err", err)
		return 0
	}
	n := r.broadcast(docID, sender, data)
	if relayable(f.Type) {
		r.publish(docID, data)
	}
	return n
}

// Deliver queues data from another node to every local member of docID.
func (r *Registry) Deliver(docID string, data []byte) int {
	r.metrics.Relayed()
	return r.broadcast(docID, nil, data)
}

// IsMember reports whether c has joined docID.
func (r *Registry) IsMember(docID string, c *Conn) bool {
	rm := r.lookup(docID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.members.Contains(c)
}

// UpdateCursor records cs for c's user and broadcasts it to the other members.
func (r *Registry) UpdateCursor(docID string, c *Conn, cs CursorState) error {
	rm := r.lookup(docID)
	if rm == nil {
		return ErrNotMember
	}
	data := protocol.MustEncode(protocol.CursorUpdate(docID, cs.UserID, cs.Range, cs.Timestamp))

	rm.mu.Lock()
	if !rm.members.Contains(c) {
		rm.mu.Unlock()
		return ErrNotMember
	}
	rm.cursors[cs.UserID] = cs
	r.broadcastLocked(rm, c, data)
	rm.mu.Unlock()

	r.publish(docID, data)
	return nil
}

// RemoveCursor drops userID's cursor and broadcasts the removal.
func (r *Registry) RemoveCursor(docID string, c *Conn, userID string) error {
	rm := r.lookup(docID)
	if rm == nil {
		return ErrNotMember
	}
	data := protocol.MustEncode(protocol.CursorRemove(docID, userID))

	rm.mu.Lock()
	if !rm.members.Contains(c) {
		rm.mu.Unlock()
		return ErrNotMember
	}
	delete(rm.cursors, userID)
	r.broadcastLocked(rm, c, data)
	rm.mu.Unlock()

	r.publish(docID, data)
	return nil
}

// Cursors returns the live cursors of docID ordered by user id.
func (r *Registry) Cursors(docID string) []CursorState {
	rm := r.lookup(docID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return sortedCursors(rm.cursors)
}

// Stats returns one entry per live room ordered by document id.
func (r *Registry) Stats() []RoomStats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	out := make([]RoomStats, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.dead {
			out = append(out, RoomStats{
				DocumentID: rm.id,
				Members:    rm.members.Cardinality(),
				Cursors:    len(rm.cursors),
			})
		}
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// --- internal ---------------------------------------------------------------

// acquire returns the live room for docID, creating it if needed, with its
// lock held.
func (r *Registry) acquire(docID string) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[docID]
		if !ok {
			rm = newRoom(docID)
			r.rooms[docID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.dead {
			return rm
		}
		// Emptied between lookup and lock; its Leave is removing it.
		rm.mu.Unlock()
	}
}

func (r *Registry) lookup(docID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[docID]
}

func (r *Registry) broadcast(docID string, sender *Conn, data []byte) int {
	rm := r.lookup(docID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return r.broadcastLocked(rm, sender, data)
}

// broadcastLocked makes one non-blocking attempt per member. rm.mu must be held.
func (r *Registry) broadcastLocked(rm *room, sender *Conn, data []byte) int {
	var delivered, skipped int
	rm.members.Each(func(m *Conn) bool {
		if m == sender {
			return false
		}
		if m.Send(data) {
			delivered++
		} else {
			skipped++
		}
		return false
	})
	r.metrics.Broadcast(delivered, skipped)
	return delivered
}

func (r *Registry) publish(docID string, data []byte) {
	r.pubMu.RLock()
	p := r.publisher
	r.pubMu.RUnlock()
	if p == nil {
		return
	}
	if err := p.Publish(context.Background(), docID, data); err != nil {
		slog.Warn("ws: relay publish failed", "doc", docID, "err", err)
	}
}

func (r *Registry) sendError(c *Conn, msg string) {
	r.metrics.ErrorSent(msg)
	c.SendFrame(protocol.ErrorFrame(msg))
}

func relayable(typ string) bool {
	switch typ {
	case protocol.TypeDocumentUpdated, protocol.TypeCursorUpdate, protocol.TypeCursorRemove:
		return true
	}
	return false
}

func snapshot(doc *store.Document) protocol.Document {
	return protocol.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		UpdatedAt: doc.UpdatedAt,
	}
}

func sortedCursors(m map[string]CursorState) []CursorState {
	out := make([]CursorState, 0, len(m))
	for _, cs := range m {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
