package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadQuiet is how long the file must stay untouched before it is reloaded.
// An in-place save is a truncate followed by a write, each raising an event.
var reloadQuiet = 250 * time.Millisecond

// Watch monitors path and calls onChange with the newly loaded Config once
// the file has settled after a change. It runs until ctx is cancelled.
//
// Reloads of an empty file, of content identical to the last applied one, and
// of invalid config are skipped; the previous config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}

	last, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	settle := time.NewTimer(reloadQuiet)
	settle.Stop()
	defer settle.Stop()

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors that save atomically show up as Create, not Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settle.Reset(reloadQuiet)

		case <-settle.C:
			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(path)

			data, err := os.ReadFile(path)
			switch {
			case err != nil:
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			case len(bytes.TrimSpace(data)) == 0:
				slog.Debug("config: file empty, waiting for content", "path", path)
				continue
			case bytes.Equal(data, last):
				continue
			}

			cfg, err := parse(data)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			last = data

			slog.Info("config: reloaded", "path", path, "log_level", cfg.Server.Log.Level)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
