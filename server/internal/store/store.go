package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("store: document not found")

	// ErrTooLarge is returned by Save when the content exceeds the configured limit.
	ErrTooLarge = errors.New("store: document too large")
)

// Document is one persisted document.
type Document struct {
	ID        string    `json:"id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Patch is a last-write-wins update. A nil field, or an empty Title, keeps the
// stored value.
type Patch struct {
	Title   *string
	Content *string
}

// apply returns doc with p applied and UpdatedAt set to now.
func (p Patch) apply(doc Document, now time.Time) Document {
	if p.Title != nil && *p.Title != "" {
		doc.Title = *p.Title
	}
	if p.Content != nil {
		doc.Content = *p.Content
	}
	doc.UpdatedAt = now
	return doc
}

// Store is the persistence collaborator. Implementations are safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context, id string) (*Document, error)
	Save(ctx context.Context, id string, p Patch) (*Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, title, content string) (*Document, error)
	Close() error
}

func newID() string { return uuid.NewString() }

// limited rejects oversized content before it reaches the backend.
type limited struct {
	Store
	maxBytes int
}

// WithLimit wraps s so that Save and Create fail with ErrTooLarge when content
// exceeds maxBytes. maxBytes <= 0 disables the check.
func WithLimit(s Store, maxBytes int) Store {
	if maxBytes <= 0 {
		return s
	}
	return &limited{Store: s, maxBytes: maxBytes}
}

func (l *limited) Save(ctx context.Context, id string, p Patch) (*Document, error) {
	if p.Content != nil && len(*p.Content) > l.maxBytes {
		return nil, fmt.Errorf("save %q: %d bytes over limit %d: %w", id, len(*p.Content), l.maxBytes, ErrTooLarge)
	}
	return l.Store.Save(ctx, id, p)
}

func (l *limited) Create(ctx context.Context, title, content string) (*Document, error) {
	if len(content) > l.maxBytes {
		return nil, fmt.Errorf("create: %d bytes over limit %d: %w", len(content), l.maxBytes, ErrTooLarge)
	}
	return l.Store.Create(ctx, title, content)
}
