// Package watch re-projects the graph and refreshes the index when source
// logs change on disk.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tslateman/lore-sub001/internal/logging"
)

// DefaultDebounce batches bursts of appends into one refresh.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called with the log files that changed since the last call.
type Handler func(ctx context.Context, changed []string) error

// Watcher watches a fixed set of files through their parent directories.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	handler  Handler
	debounce time.Duration
	log      *zap.Logger
}

// New watches files. Parent directories are created when missing so logs
// that do not exist yet are picked up once written.
func New(files []string, handler Handler, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log = logging.OrNop(log)
	w := &Watcher{files: make(map[string]bool), handler: handler, debounce: debounce, log: log}
	seen := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	sort.Strings(w.dirs)
	return w, nil
}

// Run blocks until ctx is cancelled. Handler errors are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.log.Info("watching source logs", zap.Strings("dirs", w.dirs))

	pending := make(map[string]bool)
	var timerC <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending[filepath.Clean(event.Name)] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))

		case <-timerC:
			timerC = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)

			w.log.Debug("source logs changed", zap.Strings("files", changed))
			if err := w.handler(ctx, changed); err != nil {
				w.log.Warn("refresh after change failed", zap.Error(err))
			}
		}
	}
}
