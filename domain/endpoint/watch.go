package endpoint

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces editor write storms (save-as-temp-then-rename,
// multiple writes per save) into a single reload per quiet period.
const debounceWindow = 250 * time.Millisecond

type watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// Watch starts a background filesystem watch over the registry root and its
// immediate kind/name subdirectories, reloading the registry (debounced) on
// create/write/remove/rename events. It returns once the watcher goroutine
// is running; call Close (or Registry.Close) to stop it.
func (r *Registry) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addRecursive(fsw, r.root); err != nil {
		fsw.Close()
		return err
	}

	w := &watcher{fsw: fsw, done: make(chan struct{})}
	r.watcher = w

	go w.run(r)
	return nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	// Best-effort: watch the root, each Kind directory, and each existing
	// Kind/Name directory so that entity.json edits are observed. A Name
	// directory created after startup surfaces as a Create event on its
	// (already watched) Kind parent; the run loop adds it then.
	if err := fsw.Add(root); err != nil {
		return err
	}
	for _, kind := range []Kind{KindSQL, KindProxy, KindWebhook} {
		kindDir := filepath.Join(root, string(kind))
		if fsw.Add(kindDir) != nil {
			continue // absent kind directories are skipped silently
		}
		entries, err := os.ReadDir(kindDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fsw.Add(filepath.Join(kindDir, entry.Name()))
			}
		}
	}
	return nil
}

func (w *watcher) run(r *Registry) {
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	trigger := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceWindow, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.fsw.Add(event.Name)
					}
				}
				trigger()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if r.logger != nil {
				r.logger.WithError(err).Warn("endpoint registry watcher error")
			}
		case <-reload:
			if errs := r.Reload(); len(errs) > 0 && r.logger != nil {
				for _, e := range errs {
					r.logger.WithError(e).Warn("endpoint registry reload had errors")
				}
			}
		case <-w.done:
			return
		}
	}
}

func (w *watcher) close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
