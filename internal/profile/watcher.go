package profile

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// Watcher reloads a profile when its backing file changes on disk.
// Editors often replace files by rename, so the parent directory is
// watched rather than the file itself.
type Watcher struct {
	fw      *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
}

// Watch starts watching path and applies successful reloads to p.
// Malformed edits are logged and skipped; the last good profile stays
// in effect.
func Watch(p *Profile, path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, terrors.Wrap(terrors.KindConfig, "create profile watcher", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, terrors.Wrap(terrors.KindConfig, fmt.Sprintf("watch %s", dir), err)
	}

	w := &Watcher{
		fw:      fw,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	target := filepath.Clean(path)
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				fresh, err := Load(path)
				if err != nil {
					logger.Warn("profile_reload_failed",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				p.replaceFrom(fresh)
				logger.Info("profile_reloaded",
					slog.String("path", path),
					slog.Int("interests", len(fresh.interests)))
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("profile_watch_error", slog.String("error", err.Error()))
			}
		}
	}()

	return w, nil
}

// Close stops the watcher and waits for the reload goroutine to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fw.Close()
	<-w.stopped
	return err
}
