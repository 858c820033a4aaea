package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 50 * time.Millisecond

// FileSource delivers the contents of one file each time it changes. The
// parent directory is watched so the file may be created after Run starts.
type FileSource struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewFileSource executes the newFileSource function.
func NewFileSource(path string, debounce time.Duration, logger *zap.Logger) *FileSource {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: filepath.Clean(path), debounce: debounce, logger: logger}
}

// Path returns the watched file.
func (f *FileSource) Path() string {
	return f.path
}

// Run watches until ctx ends. A missing or unreadable file is treated as
// nothing to deliver.
func (f *FileSource) Run(ctx context.Context, deliver func(raw []byte)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.logger.Info("control file watcher started", zap.String("path", f.path))

	name := filepath.Base(f.path)
	timer := time.NewTimer(f.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("control file watcher stopped", zap.String("path", f.path))
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(f.debounce)

		case <-timer.C:
			data, err := os.ReadFile(f.path)
			if err != nil {
				f.logger.Debug("control file not readable", zap.String("path", f.path), zap.Error(err))
				continue
			}
			deliver(data)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Debug("control file watcher error", zap.Error(err))
		}
	}
}
