package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/ralphloop/internal/logging"
)

// DefaultDebounce coalesces the bursts of events an atomic replace produces.
const DefaultDebounce = 100 * time.Millisecond

// FileWatcher signals when one file changes. It watches the parent
// directory so replacement by rename is seen.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	target   string
	debounce time.Duration
	changes  chan struct{}
	logger   *logging.Logger
}

// NewFileWatcher watches path. The directory must exist.
func NewFileWatcher(path string, logger *logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &FileWatcher{
		watcher:  watcher,
		target:   filepath.Base(path),
		debounce: DefaultDebounce,
		changes:  make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// Changes delivers one value per debounced burst of changes. It is closed
// when Run returns.
func (w *FileWatcher) Changes() <-chan struct{} { return w.changes }

// Run processes events until ctx is done.
func (w *FileWatcher) Run(ctx context.Context) {
	defer close(w.changes)
	defer w.watcher.Close()

	debounceTimer := time.NewTimer(w.debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state file watcher error", "error", err.Error())
		}
	}
}
