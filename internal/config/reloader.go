package config

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Reloader watches the config file and re-applies reloadable settings
// at runtime. Only the log level is hot-reloadable; everything else
// requires a restart.
type Reloader struct {
	path   string
	logger *logrus.Logger

	// OnReload, if set, is invoked with the freshly loaded config
	// after the log level has been applied.
	OnReload func(*Config)
}

// NewReloader creates a reloader for the config file at path.
func NewReloader(path string, logger *logrus.Logger) *Reloader {
	return &Reloader{path: path, logger: logger}
}

// Watch blocks until ctx is cancelled, reloading the config when the
// file changes on disk or when SIGHUP is received. Editors often
// replace the file instead of writing in place, so the watch is on the
// containing directory.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Coalesce bursts of events from atomic file replacement.
	var debounce *time.Timer
	debounced := make(chan struct{}, 1)
	schedule := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(100*time.Millisecond, func() {
			select {
			case debounced <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithError(err).Warn("config watcher error")
		case <-hup:
			r.logger.Info("received SIGHUP, reloading configuration")
			r.reload()
		case <-debounced:
			r.logger.WithField("path", r.path).Info("config file changed, reloading")
			r.reload()
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		r.logger.WithError(err).Error("config reload failed, keeping previous configuration")
		return
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		r.logger.WithError(err).Error("invalid log level in reloaded config")
		return
	}
	if r.logger.GetLevel() != level {
		r.logger.SetLevel(level)
		r.logger.WithField("level", level.String()).Info("log level updated")
	}

	if r.OnReload != nil {
		r.OnReload(cfg)
	}
}
