package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the config file for changes and triggers a reload callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	logger   *zap.Logger
}

// NewWatcher creates a file watcher for the given config path.
func NewWatcher(path string, onChange func(), logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}
	return &Watcher{
		watcher:  fw,
		path:     path,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Run watches for writes and invokes the reload callback. Blocks until ctx is
// cancelled. Reloads are debounced: the callback fires 500ms after the last
// write, so editors that truncate-then-write trigger a single reload.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					w.logger.Info("config file changed, reloading", zap.String("path", w.path))
					w.onChange()
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
