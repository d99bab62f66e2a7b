package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/rulekeeper/internal/models"
	"github.com/starford/rulekeeper/internal/storage"
)

const reconcileDelay = 200 * time.Millisecond

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch follows file changes under the provider root and keeps the index
// current until ctx is cancelled. cb, if non-nil, runs after each change.
//
// Directories created at runtime are added to the watch list. fsnotify
// reports renames on the old path only, so a rename schedules a short
// reconciliation pass that picks up the new path.
func Watch(ctx context.Context, db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) error {
	root := store.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	notify := func(kind, path string) {
		if cb != nil {
			cb(kind, path)
		}
	}

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
			return
		}
		reconcileTimer.Reset(reconcileDelay)
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
			reconcile(db, store, logger, notify)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if storage.IsHidden(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					}
					// Files may land before the directory is watched.
					scheduleReconcile()
					continue
				}
			}

			if !strings.HasSuffix(rel, ".md") {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if err := indexPath(db, store, rel); err != nil {
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				notify(kind, rel)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if err := db.Delete(rel); err != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				notify("deleted", rel)
				if ev.Op&fsnotify.Rename != 0 {
					scheduleReconcile()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func indexPath(db *DB, store storage.Provider, rel string) error {
	data, err := store.Read(rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(filepath.Join(store.Root(), filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	return indexFile(db, models.DocumentMeta{Path: rel, UpdatedAt: info.ModTime()}, data)
}

// reconcile removes index entries whose files are gone and indexes files
// the index does not know in their current version.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, notify EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]models.DocumentMeta, len(metas))
	for _, m := range metas {
		disk[m.Path] = m
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := db.Delete(p); err == nil {
			logger.Debug("reconcile: removed stale", slog.String("path", p))
			notify("deleted", p)
		}
	}

	for p, m := range disk {
		old, known := checksums[p]
		if old == m.Checksum {
			continue
		}
		data, err := store.Read(p)
		if err != nil {
			continue
		}
		if err := indexFile(db, m, data); err != nil {
			continue
		}
		kind := "updated"
		if !known {
			kind = "created"
		}
		logger.Debug("reconcile: indexed", slog.String("path", p), slog.String("op", kind))
		notify(kind, p)
	}
}

// addDirsRecursive adds root and every non-hidden subdirectory to w.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
