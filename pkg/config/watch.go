package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the configuration file and logs a warning whenever it
// changes on disk. The topology is frozen at startup, so changes only take
// effect on restart; the warning tells the operator the running config is
// stale. Watch blocks until the context is cancelled.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (rename + create) are still observed.
func Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			evAbs, err := filepath.Abs(event.Name)
			if err != nil || evAbs != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				slog.Warn("configuration file changed on disk; restart to apply",
					"path", path,
					"op", event.Op.String(),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}
