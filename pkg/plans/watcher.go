package plans

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// Watcher reloads a catalog file into an Enforcer when it changes on disk.
// The parent directory is watched so editors that replace the file by
// rename are still picked up.
type Watcher struct {
	path     string
	enforcer *Enforcer
	logger   *observability.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher loads the catalog once and prepares a file watch
func NewWatcher(path string, enforcer *Enforcer, logger *observability.Logger) (*Watcher, error) {
	path = filepath.Clean(path)
	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	enforcer.SetCatalog(catalog)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		path:     path,
		enforcer: enforcer,
		logger:   logger.WithField("plans_file", path),
		watcher:  fw,
	}, nil
}

// Run processes file events until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Plan catalog watcher error")
		}
	}
}

func (w *Watcher) reload() {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		// Keep serving the previous catalog
		w.logger.WithError(err).Error("Failed to reload plan catalog")
		return
	}
	w.enforcer.SetCatalog(catalog)
	w.logger.Info("Plan catalog reloaded")
}
