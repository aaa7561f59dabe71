package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	rtsup "dailycast/internal/runtime/supervisor"
	"dailycast/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watch reloads the file after it changes until ctx is done. Bursts of
// events are collapsed into one reload. A rejected config is logged and the
// committed one stays. A failing watcher is recreated with backoff, so Watch
// only returns once ctx is done.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("path", m.path))
	retry := watchRetryMin

	for ctx.Err() == nil {
		w, err := newDirWatcher(dir)
		if err != nil {
			log.Warn("config watch init failed", logx.Err(err))
		} else {
			log.Debug("config watcher started")
			err = m.watchLoop(ctx, w, file, log)
			_ = w.Close()
			if err == nil {
				return nil
			}
			log.Warn("config watcher broke; restarting", logx.Err(err))
			retry = watchRetryMin
		}

		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		_ = rtsup.Sleep(ctx, wait)
	}
	return nil
}

// The directory is watched rather than the file: editors and config
// management tools replace files by rename, which drops a file watch.
func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

var errWatcherClosed = errors.New("config watcher closed")

// watchLoop returns nil when ctx is done and an error when the watcher
// stops delivering.
func (m *ConfigManager) watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, log logx.Logger) error {
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && !ev.Has(fsnotify.Chmod) {
				debounce.Reset(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				log.Warn("config watch overflow; reloading", logx.Err(err))
				debounce.Reset(reloadDebounce)
				continue
			}
			log.Warn("config watch error", logx.Err(err))

		case <-debounce.C:
			published, err := m.Reload(ctx)
			switch {
			case err != nil:
				log.Warn("config rejected", logx.Err(err))
			case published:
				log.Debug("config change published")
			default:
				log.Debug("config file touched, content unchanged")
			}
		}
	}
}
