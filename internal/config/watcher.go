package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce collapses the burst of events an editor save produces.
const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a Config when its file changes on disk.
type Watcher struct {
	cfg      *Config
	onChange func(old, updated Snapshot)
	debounce time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for cfg. onChange runs after a successful
// reload that changed the file content; writes made through the Config
// setters do not trigger it.
func NewWatcher(cfg *Config, onChange func(old, updated Snapshot), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		cfg:      cfg,
		onChange: onChange,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch monitors the config file until ctx is cancelled.
// The directory is watched so editors that replace the file are followed.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // Close error on shutdown is not actionable

	path := filepath.Clean(w.cfg.Path())
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	slog.Info("watching configuration file", "path", path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	old := w.cfg.Snapshot()
	changed, err := w.cfg.Reload()
	if err != nil {
		slog.Warn("config reload rejected, keeping current settings", "path", w.cfg.Path(), "error", err)
		return
	}
	if !changed {
		return
	}

	slog.Info("configuration reloaded", "path", w.cfg.Path())
	if w.onChange != nil {
		w.onChange(old, w.cfg.Snapshot())
	}
}
