package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// Bolt is a Store backed by an embedded bbolt file. Documents are stored as JSON
// values keyed by id.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("store: bolt: path is required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: bolt: open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bolt: create bucket: %w", err)
	}
	return &Bolt{db: db, now: time.Now}, nil
}

func (b *Bolt) Load(_ context.Context, id string) (*Document, error) {
	var doc Document
	err := b.db.View(func(tx *bolt.Tx) error {
		return get(tx, id, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *Bolt) Save(_ context.Context, id string, p Patch) (*Document, error) {
	var doc Document
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := get(tx, id, &doc); err != nil {
			return err
		}
		doc = p.apply(doc, b.now().UTC())
		return put(tx, doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *Bolt) Exists(_ context.Context, id string) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(documentsBucket).Get([]byte(id)) != nil
		return nil
	})
	return ok, err
}

func (b *Bolt) Create(_ context.Context, title, content string) (*Document, error) {
	now := b.now().UTC()
	doc := Document{ID: newID(), Title: title, Content: content, CreatedAt: now, UpdatedAt: now}
	if err := b.db.Update(func(tx *bolt.Tx) error { return put(tx, doc) }); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

func get(tx *bolt.Tx, id string, doc *Document) error {
	v := tx.Bucket(documentsBucket).Get([]byte(id))
	if v == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(v, doc); err != nil {
		return fmt.Errorf("store: bolt: decode %q: %w", id, err)
	}
	return nil
}

func put(tx *bolt.Tx, doc Document) error {
	v, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: bolt: encode %q: %w", doc.ID, err)
	}
	return tx.Bucket(documentsBucket).Put([]byte(doc.ID), v)
}
