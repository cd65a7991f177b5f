package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the registry whenever the operation map file changes.
// The parent directory is watched so that editors which replace the file
// are still observed. Watching stops when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	fs, ok := r.source.(FileSource)
	if !ok {
		return fmt.Errorf("source %s cannot be watched", r.source.Name())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(fs.Path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go r.processEvents(ctx, watcher, filepath.Clean(fs.Path))

	r.logger.Info().Str("path", fs.Path).Msg("Watching operation map")
	return nil
}

func (r *Registry) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			r.logger.Debug().Str("event", event.Op.String()).Msg("Operation map changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDebounce, func() {
				if err := r.Reload(ctx); err != nil {
					r.logger.Warn().Err(err).Msg("Operation map reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("Operation map watcher error")
		}
	}
}
