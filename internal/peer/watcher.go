package peer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watch republishes after file changes under root settle for the debounce
// period.
func (p *Publisher) watch(ctx context.Context, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	p.logger.Info("peer: watching vault", slog.String("root", root))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(p.debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(p.debounce)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("peer: watcher stopped")
			return nil

		case <-timerCh:
			if _, err := p.Publish(ctx); err != nil {
				p.logger.Warn("peer: republish failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(w, ev.Name); err != nil {
						p.logger.Warn("peer: watch new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()))
					}
					schedule()
					continue
				}
			}
			if strings.HasSuffix(ev.Name, ".md") || ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("peer: watcher error", slog.String("error", err.Error()))
		}
	}
}

// addDirsRecursive watches root and every non-hidden directory below it.
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
