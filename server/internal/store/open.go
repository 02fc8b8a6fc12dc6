package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docsync/docsync/server/internal/config"
)

// Open builds the backend selected by cfg and applies the content limit.
func Open(ctx context.Context, cfg config.StorageConfig, maxContentBytes int) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "memory", "":
		s = NewMemory()
	case "bolt":
		s, err = OpenBolt(cfg.Path)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.DSN())
	case "mongo":
		s, err = OpenMongo(ctx, cfg.DSN(), cfg.Database, cfg.Collection)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("store: opened", "backend", cfg.Backend, "max_content_bytes", maxContentBytes)
	return WithLimit(s, maxContentBytes), nil
}
