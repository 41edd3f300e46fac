package taxonomy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events an editor emits on save.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads path into h whenever the file changes, until ctx is done.
// The parent directory is watched so that atomic rename-on-save keeps
// working. A reload that fails leaves the previous index in place.
func (h *Holder) Watch(ctx context.Context, path string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return eris.Wrap(err, "taxonomy: watch path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "taxonomy: create watcher")
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return eris.Wrapf(err, "taxonomy: watch %s", filepath.Dir(abs))
	}
	zap.L().Info("taxonomy: watching for changes", zap.String("path", abs))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("taxonomy: watcher error", zap.Error(err))

		case <-timer.C:
			if _, err := h.ReloadFile(abs); err != nil {
				zap.L().Warn("taxonomy: reload failed, keeping previous index",
					zap.String("path", abs),
					zap.Error(err),
				)
			}
		}
	}
}
