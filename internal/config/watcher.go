package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and invokes a callback with
// the freshly parsed Config, mirroring the teacher's config hot-reload
// watcher (internal/config's fsnotify.Watcher wrapper in the original
// db-bouncer repository).
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher watches path for writes and calls onReload with the newly
// loaded Config each time it changes. Reload errors are logged and
// otherwise ignored — the previous, known-good Config stays in effect.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	go w.loop(path, onReload)
	return w, nil
}

func (w *Watcher) loop(path string, onReload func(*Config)) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Printf("[config] reload failed, keeping previous config: %v", err)
				continue
			}
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Stop stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}
