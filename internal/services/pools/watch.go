package pools

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 300 * time.Millisecond

// Watch calls fn with the reloaded pool list every time the loader's file changes,
// until ctx is done. The directory is watched so that files replaced by rename are picked up.
// A file that fails to load is logged and skipped.
func Watch(ctx context.Context, loader *FileLoader, debounce time.Duration, fn func([]domain.Pool), l *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	path, err := filepath.Abs(loader.Path())
	if err != nil {
		return errors.Wrap(err, "resolve pools file")
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(path))
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("pools watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			pools, err := loader.Pools(ctx)
			if err != nil {
				l.Warn("failed to reload pools file", zap.String("path", path), zap.Error(err))
				continue
			}
			l.Info("pools file reloaded", zap.String("path", path), zap.Int("pools", len(pools)))
			fn(pools)
		}
	}
}
