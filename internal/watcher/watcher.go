// Package watcher observes the vault and feeds document changes into
// the sync queue.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/laguz/internal/checksum"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/storage"
)

// Enqueuer accepts change notifications. *engine.Queue satisfies it.
type Enqueuer interface {
	Enqueue(changes []models.ChangeEvent, cfg models.ContainerConfig)
}

// Watch starts an fsnotify watcher on the vault root and forwards file
// change events to the queue until ctx is cancelled. Editors fire
// multiple write events per save; a checksum cache drops the ones that
// did not actually change content.
//
// New directories created at runtime are automatically added to the
// watch list. Rename events trigger a reconciliation pass because
// fsnotify reports only the old path; the new path surfaces as a
// separate create, or is picked up by the reconcile.
func Watch(ctx context.Context, queue Enqueuer, store storage.Provider, vaultRoot string, container models.ContainerConfig, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	// Seed the checksum cache so pre-existing files do not look new on
	// their first write event.
	cache := make(map[string]string)
	if metas, listErr := store.List(""); listErr == nil {
		for _, m := range metas {
			cache[m.Path] = m.Checksum
		}
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	enqueue := func(kind models.ChangeKind, path string) {
		queue.Enqueue([]models.ChangeEvent{{Path: path, Kind: kind, At: time.Now()}}, container)
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
			reconcile(queue, store, container, cache, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Pick up .md files that moved in with the directory.
					enqueueNewDir(queue, store, container, cache, vaultRoot, absPath, logger)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				cs := checksum.Sum(data)
				prev, known := cache[rel]
				if known && prev == cs {
					// Spurious event, content is unchanged.
					continue
				}
				cache[rel] = cs
				kind := models.ChangeUpdated
				if !known {
					kind = models.ChangeCreated
				}
				logger.Debug("watcher: change", slog.String("path", rel), slog.String("kind", string(kind)))
				enqueue(kind, rel)

			case ev.Op&fsnotify.Remove != 0:
				delete(cache, rel)
				logger.Debug("watcher: removed", slog.String("path", rel))
				enqueue(models.ChangeDeleted, rel)

			case ev.Op&fsnotify.Rename != 0:
				delete(cache, rel)
				logger.Debug("watcher: rename old path", slog.String("path", rel))
				enqueue(models.ChangeDeleted, rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile compares the checksum cache against the disk and enqueues
// whatever drifted: files that vanished and files that appeared or
// changed without a matching event.
func reconcile(queue Enqueuer, store storage.Provider, container models.ContainerConfig, cache map[string]string, logger *slog.Logger) {
	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	var changes []models.ChangeEvent
	now := time.Now()

	for p := range cache {
		if _, ok := disk[p]; !ok {
			delete(cache, p)
			changes = append(changes, models.ChangeEvent{Path: p, Kind: models.ChangeDeleted, At: now})
			logger.Debug("reconcile: vanished", slog.String("path", p))
		}
	}

	for p, cs := range disk {
		prev, known := cache[p]
		if known && prev == cs {
			continue
		}
		cache[p] = cs
		kind := models.ChangeUpdated
		if !known {
			kind = models.ChangeCreated
		}
		changes = append(changes, models.ChangeEvent{Path: p, Kind: kind, At: now})
		logger.Debug("reconcile: drifted", slog.String("path", p))
	}

	if len(changes) > 0 {
		queue.Enqueue(changes, container)
	}
}

// enqueueNewDir enqueues any .md files found in a newly created directory.
func enqueueNewDir(queue Enqueuer, store storage.Provider, container models.ContainerConfig, cache map[string]string, vaultRoot, dirPath string, logger *slog.Logger) {
	var changes []models.ChangeEvent
	now := time.Now()
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		data, readErr := store.Read(rel)
		if readErr != nil {
			return nil
		}
		cache[rel] = checksum.Sum(data)
		changes = append(changes, models.ChangeEvent{Path: rel, Kind: models.ChangeCreated, At: now})
		logger.Debug("watcher: found in new dir", slog.String("path", rel))
		return nil
	})
	if len(changes) > 0 {
		queue.Enqueue(changes, container)
	}
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
