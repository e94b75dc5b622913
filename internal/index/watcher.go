package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/cookshelf/internal/models"
	"github.com/starford/cookshelf/internal/recipepath"
	"github.com/starford/cookshelf/internal/storage"
)

// EventCallback is called after a watcher-driven index change with one of
// the models.Event* kinds and the extension-free storage key of the recipe.
type EventCallback func(kind string, key string)

// reconcileDelay debounces the rebuild scheduled after renames.
const reconcileDelay = 200 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

type watchConfig struct {
	own *WriteLog
}

// IgnoreOwnWrites suppresses the callback for changes recorded in log, i.e.
// writes this process made through a RecordWrites store and has already
// announced itself.
func IgnoreOwnWrites(log *WriteLog) WatchOption {
	return func(c *watchConfig) {
		c.own = log
	}
}

// watchState bundles what event handling needs.
type watchState struct {
	w      *fsnotify.Watcher
	cache  *Cache
	store  *storage.FS
	logger *slog.Logger
	cb     EventCallback
	own    *WriteLog
}

func (ws *watchState) notify(kind, key string) {
	if ws.cb != nil {
		ws.cb(kind, key)
	}
}

// Watch follows edits made to the recipe directory behind the server's back
// and mirrors them into the cache until ctx is cancelled.
//
// New directories are added to the watch list as they appear. fsnotify only
// reports the old name of a rename, so renames drop the old entry and
// schedule a debounced Rebuild to pick up the new one.
//
// Whether a change is reported as created or updated depends on whether the
// recipe was indexed before, not on the fsnotify op: editors and atomic
// writers replace files by renaming, which fsnotify reports as Create.
func Watch(ctx context.Context, cache *Cache, store *storage.FS, logger *slog.Logger, cb EventCallback, opts ...WatchOption) error {
	var cfg watchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	ws := &watchState{w: w, cache: cache, store: store, logger: logger, cb: cb, own: cfg.own}

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := cache.Rebuild(ctx); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			ws.handleEvent(ctx, ev, scheduleReconcile)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (ws *watchState) handleEvent(ctx context.Context, ev fsnotify.Event, scheduleReconcile func()) {
	absPath := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(ws.w, absPath); addErr != nil {
				ws.logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			}
			ws.indexNewDir(ctx, absPath)
			return
		}
	}

	if !recipepath.HasExt(absPath) {
		return
	}
	fileKey, err := ws.store.KeyFor(absPath)
	if err != nil {
		return
	}
	key := recipepath.TrimExt(fileKey)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		ws.index(ctx, fileKey)

	case ev.Op&fsnotify.Remove != 0:
		ws.cache.Remove(key)
		ws.logger.Debug("watcher: removed", slog.String("key", key))
		if !ws.own.matchRemove(fileKey) {
			ws.notify(models.EventDeleted, key)
		}

	case ev.Op&fsnotify.Rename != 0:
		ws.cache.Remove(key)
		ws.logger.Debug("watcher: rename old removed", slog.String("key", key))
		ws.notify(models.EventDeleted, key)
		scheduleReconcile()
	}
}

// index reads fileKey and mirrors it into the cache. Content this process
// wrote itself is already indexed and announced.
func (ws *watchState) index(ctx context.Context, fileKey string) {
	data, err := ws.store.Get(ctx, fileKey)
	if err != nil {
		ws.logger.Warn("watcher: read failed", slog.String("key", fileKey), slog.String("error", err.Error()))
		return
	}
	if ws.own.matchWrite(fileKey, data) {
		return
	}

	key := recipepath.TrimExt(fileKey)
	_, existed := ws.cache.Get(key)
	if err := ws.cache.Update(key, data); err != nil {
		return
	}
	kind := models.EventCreated
	if existed {
		kind = models.EventUpdated
	}
	ws.logger.Debug("watcher: indexed", slog.String("key", key), slog.String("op", kind))
	ws.notify(kind, key)
}

// indexNewDir indexes recipes already present in a newly created directory.
func (ws *watchState) indexNewDir(ctx context.Context, dirPath string) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !recipepath.HasExt(path) {
			return nil
		}
		fileKey, keyErr := ws.store.KeyFor(path)
		if keyErr != nil {
			return nil
		}
		ws.index(ctx, fileKey)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
