package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/repository/state"
)

// scriptEvents are the operations that may change the active core.
const scriptEvents = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// watcher refreshes the holder when an init script changes.
type watcher struct {
	fs      *fsnotify.Watcher
	holder  *state.Holder
	scripts map[string]struct{}
}

// newWatcher watches the directories of the init scripts.
func newWatcher(holder *state.Holder, scripts []string) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &watcher{
		fs:      fsw,
		holder:  holder,
		scripts: make(map[string]struct{}, len(scripts)),
	}

	dirs := make(map[string]struct{}, len(scripts))

	for _, script := range scripts {
		script = filepath.Clean(script)
		w.scripts[script] = struct{}{}
		dirs[filepath.Dir(script)] = struct{}{}
	}

	for dir := range dirs {
		if err = fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return w, nil
}

// run processes events until ctx is done.
func (w *watcher) run(ctx context.Context) {
	defer func() {
		_ = w.fs.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}

			w.handle(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}

			logger.WarnKV(ctx, "Init script watcher error", "error", err)
		}
	}
}

func (w *watcher) handle(ctx context.Context, event fsnotify.Event) {
	if _, ok := w.scripts[filepath.Clean(event.Name)]; !ok || event.Op&scriptEvents == 0 {
		return
	}

	before := w.holder.Active().Name

	active, err := w.holder.Refresh(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Unable to re-read the init script", "script", event.Name, "error", err)
		return
	}

	if active.Identity.Name != before {
		logger.InfoKV(ctx, "Active core changed", "previous", before, "core", active.Identity.Name)
	}
}
