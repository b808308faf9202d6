package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/utils"
)

// A Watcher rereads a config file whenever it changes on disk.
type Watcher struct {
	path    string
	logger  logging.Logger
	fs      *fsnotify.Watcher
	configs chan *Config
	workers utils.StoppableWorkers
}

// NewWatcher watches the config file at path. Configs that fail to read or validate are logged
// and skipped.
func NewWatcher(path string, logger logging.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors often replace the file, so watch its directory
	if err := fs.Add(filepath.Dir(path)); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "watching config directory"), fs.Close())
	}
	w := &Watcher{
		path:    filepath.Clean(path),
		logger:  logger,
		fs:      fs,
		configs: make(chan *Config, 1),
	}
	w.workers = utils.NewStoppableWorkers(w.run)
	return w, nil
}

// Config returns a channel of new configs. A config not received before the next change is
// replaced by the newer one.
func (w *Watcher) Config() <-chan *Config {
	return w.configs
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Read(ctx, w.path, w.logger)
			if err != nil {
				w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
				continue
			}
			// only the newest unread config is kept
			select {
			case <-w.configs:
			default:
			}
			w.configs <- cfg
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.workers.Stop()
	return w.fs.Close()
}
