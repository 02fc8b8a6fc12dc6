package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection, and ensures the
// documents table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createDocumentsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Load(ctx context.Context, id string) (*Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, title, content, created_at, updated_at FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// Save applies the patch in one statement; COALESCE keeps columns whose patch
// field is absent.
func (p *Postgres) Save(ctx context.Context, id string, patch Patch) (*Document, error) {
	var title *string
	if patch.Title != nil && *patch.Title != "" {
		title = patch.Title
	}
	row := p.pool.QueryRow(ctx, `
		UPDATE documents
		SET title = COALESCE($1, title), content = COALESCE($2, content), updated_at = now()
		WHERE id = $3
		RETURNING id, title, content, created_at, updated_at`,
		title, patch.Content, id)
	return scanDocument(row)
}

func (p *Postgres) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("store: postgres: exists %q: %w", id, err)
	}
	return ok, nil
}

func (p *Postgres) Create(ctx context.Context, title, content string) (*Document, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO documents (id, title, content) VALUES ($1, $2, $3)
		RETURNING id, title, content, created_at, updated_at`,
		newID(), title, content)
	return scanDocument(row)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: postgres: %w", err)
	}
	return &doc, nil
}
