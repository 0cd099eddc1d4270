package watcher

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
)

// Watcher reports changes to a single knowledge-base file.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// New creates a file watcher.
func New(logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create file watcher")
	}
	return &Watcher{watcher: w, logger: logger}, nil
}

// Watch emits path every time the file is created or written. The parent
// directory is watched so that editors replacing the file by rename are seen.
// The channel is closed when ctx is done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context, path string) (<-chan string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve path", goerr.V("path", path))
	}
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return nil, goerr.Wrap(err, "failed to watch directory", goerr.V("path", abs))
	}

	events := make(chan string, 1)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				select {
				case events <- path:
				case <-ctx.Done():
					return
				default:
					// a reload is already pending
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "path", abs, "error", err)
			}
		}
	}()
	return events, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
