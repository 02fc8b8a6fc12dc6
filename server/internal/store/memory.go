package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a thread-safe in-memory Store keyed by document id.
// Contents are lost when the process exits.
type Memory struct {
	mu   sync.RWMutex
	data map[string]Document
	now  func() time.Time // injectable for deterministic tests
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]Document),
		now:  time.Now,
	}
}

func (m *Memory) Load(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *Memory) Save(_ context.Context, id string, p Patch) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	doc = p.apply(doc, m.now().UTC())
	m.data[id] = doc
	return &doc, nil
}

func (m *Memory) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[id]
	return ok, nil
}

func (m *Memory) Create(_ context.Context, title, content string) (*Document, error) {
	now := m.now().UTC()
	doc := Document{
		ID:        newID(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.data[doc.ID] = doc
	m.mu.Unlock()
	return &doc, nil
}

// Put stores doc as-is, replacing any document with the same id.
// Used to seed fixed ids in tests and demos.
func (m *Memory) Put(doc Document) {
	m.mu.Lock()
	m.data[doc.ID] = doc
	m.mu.Unlock()
}

// Count returns the number of stored documents.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error { return nil }
