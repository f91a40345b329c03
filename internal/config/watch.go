package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads a Store whenever the persisted config changes on disk,
// matching the teacher's fsnotify-driven config/auth-dir watcher
// generalized to just the config source (provider/credential/user CRUD
// goes through the admin boundary, not file edits, per spec §1).
type Watcher struct {
	fsw      *fsnotify.Watcher
	store    *Store
	persisted PersistedStore
	path     string
}

// NewWatcher creates a Watcher for the directory containing path.
func NewWatcher(store *Store, persisted PersistedStore, path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, store: store, persisted: persisted, path: path}, nil
}

// Run blocks, reloading the Store on every relevant filesystem event,
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := w.persisted.Load(ctx)
			if err != nil {
				log.Warnf("config watcher: reload failed: %v", err)
				continue
			}
			w.store.Swap(cfg)
			log.Info("configuration snapshot reloaded from disk change")
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}
