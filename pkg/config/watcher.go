package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches the given configuration files and emits one signal
// per burst of changes. Editors write in several steps (or replace the
// file entirely, as atomic saves do), so events are debounced: the signal
// fires only after the file has been quiet for the debounce interval. The
// returned channel closes when ctx is canceled or the watcher dies.
func WatchConfig(ctx context.Context, debounce time.Duration, files ...string) <-chan struct{} {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	reloadCh := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config watcher", "error", err)
		close(reloadCh)
		return reloadCh
	}

	for _, file := range files {
		path, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Cannot resolve config path", "file", file, "error", err)
			continue
		}
		if err := watcher.Add(path); err != nil {
			slog.Warn("Cannot watch config file", "file", path, "error", err)
			continue
		}
		slog.Debug("Watching config file", "file", path)
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(debounce, func() {
					slog.Info("Config change detected", "file", ev.Name)
					select {
					case reloadCh <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()

	return reloadCh
}
