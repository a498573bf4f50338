package shard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a changed directory file is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a Directory when its file changes. The parent directory is
// watched rather than the file so that editors which replace the file by
// rename are picked up.
type Watcher struct {
	dir      *Directory
	logger   *slog.Logger
	debounce time.Duration

	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a Watcher for dir.
func NewWatcher(dir *Directory, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, logger: logger, debounce: debounce}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	path, err := filepath.Abs(w.dir.Path())
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	w.logger.Info("shard directory watcher started", "path", path, "debounce", w.debounce)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("shard directory watcher error", "err", err)
		}
	}
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	err := w.dir.Reload()
	if err != nil {
		w.logger.Error("shard directory reload failed, keeping previous mapping", "err", err)
	} else {
		w.logger.Info("shard directory reloaded", "shards", len(w.dir.Shards()))
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
