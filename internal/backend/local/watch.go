package local

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce collapses the burst of events an editor save produces.
const DefaultWatchDebounce = 200 * time.Millisecond

var watchedFiles = map[string]bool{
	ClassesFile:             true,
	SchemaRelationshipsFile: true,
	EntitiesFile:            true,
	RelationsFile:           true,
}

// Watch reloads the index whenever a data file changes and then calls
// onChange. It blocks until ctx is cancelled.
func (b *Backend) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so files replaced by rename are still seen.
	if err := watcher.Add(b.dir); err != nil {
		return err
	}
	b.logger.Info("watching data directory", zap.String("dir", b.dir))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	fire := func() {
		if err := b.Reload(); err != nil {
			b.logger.Warn("reloading after change", zap.Error(err))
			return
		}
		if onChange != nil {
			onChange()
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watchedFiles[filepath.Base(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			b.logger.Debug("data file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fire)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
