package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watcher monitors a config file for changes using polling.
// It checks the file's modification time at a configurable interval.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func()
	lastMod  time.Time
}

// NewWatcher creates a config file watcher that polls for changes.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger,
		onChange: onChange,
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	// Record initial mod time
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	w.logger.Info("config watcher started", "path", w.path, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "error", err)
		return
	}

	modTime := info.ModTime()
	if modTime.After(w.lastMod) {
		w.logger.Info("config file changed", "path", w.path, "modTime", modTime)
		w.lastMod = modTime
		if w.onChange != nil {
			w.onChange()
		}
	}
}
