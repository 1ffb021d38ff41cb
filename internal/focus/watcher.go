package focus

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// UploadWatcher watches a project's uploads directory and drops focus when a
// new raw file lands. The ingest pipeline writes uploads from outside the
// process, so an fs event is the only signal the core gets.
type UploadWatcher struct {
	tracker *Tracker
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewUploadWatcher creates a watcher bound to the tracker.
func NewUploadWatcher(tracker *Tracker, logger *zap.Logger) (*UploadWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &UploadWatcher{tracker: tracker, logger: logger, watcher: w}, nil
}

// Close releases the underlying fs watcher. Run closes it itself; Close is
// for the paths that never reach Run.
func (u *UploadWatcher) Close() error {
	return u.watcher.Close()
}

// WatchProject registers the project's uploads directory, creating it first
// so the watch does not fail on a fresh project.
func (u *UploadWatcher) WatchProject(user, project string) error {
	dir := filepath.Join(filepath.Dir(u.tracker.disk.ProjectStateDir(user, project)), "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return u.watcher.Add(dir)
}

// Run processes events until the context is cancelled. A Create event for a
// regular file clears whatever focus its project held.
func (u *UploadWatcher) Run(ctx context.Context, user, project string) {
	defer u.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-u.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
				continue
			}
			u.logger.Info("new upload detected, dropping focus",
				zap.String("project", project),
				zap.String("file", name))
			u.tracker.disk.ClearActiveObject(user, project)
		case err, ok := <-u.watcher.Errors:
			if !ok {
				return
			}
			u.logger.Warn("upload watcher error", zap.Error(err))
		}
	}
}
