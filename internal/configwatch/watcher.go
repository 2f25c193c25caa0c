// Package configwatch reloads a configuration file when it changes on disk.
package configwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before reloading.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc is called once the watched file has settled.
type ReloadFunc func() error

// Watch watches path until ctx is cancelled and calls reload after each burst
// of changes. The parent directory is watched rather than the file itself so
// that editors replacing the file through a rename keep being observed. A
// failing reload is logged and the previous configuration stays in effect.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, reload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	logger.Info("configwatch: started", slog.String("path", abs))

	// reloadTimer debounces bursts of writes (truncate + write, rename + create).
	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(debounce)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("configwatch: stopped")
			return nil

		case <-reloadCh:
			if err := reload(); err != nil {
				logger.Warn("configwatch: reload rejected",
					slog.String("path", abs),
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("configwatch: reloaded", slog.String("path", abs))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				logger.Debug("configwatch: change", slog.String("op", ev.Op.String()))
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("configwatch: error", slog.String("error", watchErr.Error()))
		}
	}
}
