// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package docstore

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/labctl/internal/log"
)

// debounceWindow coalesces the write+rename event bursts of an atomic save.
const debounceWindow = 250 * time.Millisecond

// Watch invokes onChange whenever the document at path is replaced or
// written. The parent directory is watched because atomic saves rename a
// temp file over the target, which would drop a direct file watch. Watch
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("docstore")
	base := filepath.Base(path)

	var pending *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			logger.Debug().Str(log.FieldPath, path).Msg("document changed on disk")
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("watch error")
		}
	}
}
