package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kilnproject/kiln/pkg/telemetry"
)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for a configuration file path.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path}
}

// Watch starts watching the file and calls reloadFn with each freshly
// parsed configuration. A reload that fails to parse or validate is
// logged and skipped; the previous configuration stays in effect.
func (w *Watcher) Watch(ctx context.Context, reloadFn func(*Config) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory: editors often replace the file, which would
	// drop a watch on the file itself.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents(ctx, reloadFn)
	return nil
}

// processEvents processes file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context, reloadFn func(*Config) error) {
	log := telemetry.FromContext(ctx).NewComponentLogger("config-watcher")

	// Debounce reload events
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Clean(event.Name), target) {
				continue
			}

			log.Debugf("config file changed (%s)", event.Op)

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				cfg, err := Load(w.path)
				if err != nil {
					log.WithError(err).Error("failed to reload config, keeping previous")
					return
				}
				if err := reloadFn(cfg); err != nil {
					log.WithError(err).Error("failed to apply reloaded config")
					return
				}
				log.Info("config reloaded")
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("watcher error")
		}
	}
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
