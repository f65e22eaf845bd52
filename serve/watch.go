package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const configDebounce = 300 * time.Millisecond

// watchConfig calls onChange after path is written, created, renamed or
// removed, coalescing bursts of events. It watches the parent directory so
// editors that replace the file atomically are seen. It returns when ctx
// is done.
func watchConfig(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		slog.Info("config directory not watched", "dir", dir, "error", err)
		<-ctx.Done()
		return nil
	}
	slog.Debug("watching config", "path", path)

	timer := time.NewTimer(configDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				timer.Reset(configDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-timer.C:
			slog.Info("config changed, reloading", "path", path)
			onChange()
		}
	}
}
