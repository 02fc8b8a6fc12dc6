package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client → server frame types.
const (
	TypeJoinDocument    = "join-document"
	TypeLeaveDocument   = "leave-document"
	TypeUpdatedDocument = "updated-document"
)

// Server → client frame types.
const (
	TypeDocumentJoined   = "document-joined"
	TypeDocumentUpdated  = "document-updated"
	TypeUpdateConfirmed  = "update-confirmed"
	TypeUserJoined       = "user-joined"
	TypeUserLeft         = "user-left"
	TypeUserDisconnected = "user-disconnected"
	TypeError            = "error"
)

// Cursor frame types travel in both directions.
const (
	TypeCursorUpdate = "cursor-update"
	TypeCursorRemove = "cursor-remove"
)

// Human-readable messages carried by error frames.
const (
	MsgInvalidFormat  = "Invalid message format"
	MsgNotFound       = "Document not found"
	MsgJoinFailed     = "Failed to join document"
	MsgMustJoin       = "You must join the document first"
	MsgUpdateFailed   = "Failed to update document"
	MsgTooLarge       = "Document is too large to save"
	MsgInvalidCursor  = "Invalid cursor update data"
	MsgForeignCursor  = "Cannot update another user's cursor"
	MsgConnectionLost = "Connection lost. Please refresh the page."
)

// ErrMalformed is returned by Decode for input that is not a frame.
var ErrMalformed = errors.New("protocol: malformed frame")

// Range is a cursor selection: a start offset and a length.
type Range struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// Document is the snapshot carried by document-joined and document-updated.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Frame is one wire message. Only the fields relevant to Type are set; the rest
// are omitted from the encoding.
type Frame struct {
	Type        string     `json:"type"`
	DocumentID  string     `json:"documentId,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Range       *Range     `json:"range,omitempty"`
	Timestamp   int64      `json:"timestamp,omitempty"` // ms since epoch
	Document    *Document  `json:"document,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	ActiveUsers int        `json:"activeUsers,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Decode parses one frame. Unknown types are not an error here; callers decide
// what to do with them.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return f, nil
}

// Encode serialises f as a single JSON object.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", f.Type, err)
	}
	return data, nil
}

// MustEncode is Encode for frames built from constructors in this package,
// which always marshal.
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return data
}

// NowMillis returns t as milliseconds since the Unix epoch, the unit of
// Frame.Timestamp.
func NowMillis(t time.Time) int64 { return t.UnixMilli() }

// IsPersistenceError reports whether msg describes a failed save. Clients show
// these notices longer than informational ones.
func IsPersistenceError(msg string) bool {
	return msg == MsgUpdateFailed || msg == MsgTooLarge
}

// --- constructors -----------------------------------------------------------

// ErrorFrame builds a server → client error.
func ErrorFrame(msg string) Frame {
	return Frame{Type: TypeError, Message: msg}
}

// DocumentFrame builds a document-joined or document-updated frame.
func DocumentFrame(typ string, doc Document) Frame {
	return Frame{Type: typ, Document: &doc}
}

// UpdateConfirmed acknowledges a persisted update to its sender.
func UpdateConfirmed(docID string, at time.Time) Frame {
	return Frame{Type: TypeUpdateConfirmed, DocumentID: docID, UpdatedAt: &at}
}

// Presence builds user-joined, user-left, and user-disconnected frames.
// userID is empty for user-joined.
func Presence(typ, docID, userID string, active int) Frame {
	return Frame{Type: typ, DocumentID: docID, UserID: userID, ActiveUsers: active}
}

// CursorUpdate builds a cursor-update frame.
func CursorUpdate(docID, userID string, r Range, ts int64) Frame {
	return Frame{Type: TypeCursorUpdate, DocumentID: docID, UserID: userID, Range: &r, Timestamp: ts}
}

// CursorRemove builds a cursor-remove frame.
func CursorRemove(docID, userID string) Frame {
	return Frame{Type: TypeCursorRemove, DocumentID: docID, UserID: userID}
}

// Join builds a join-document request.
func Join(docID, userID string) Frame {
	return Frame{Type: TypeJoinDocument, DocumentID: docID, UserID: userID}
}

// Leave builds a leave-document request.
func Leave(docID, userID string) Frame {
	return Frame{Type: TypeLeaveDocument, DocumentID: docID, UserID: userID}
}

// Update builds an updated-document request carrying both fields.
func Update(docID, title, content string) Frame {
	return Frame{Type: TypeUpdatedDocument, DocumentID: docID, Title: &title, Content: &content}
}
