package source

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a MediaStore in sync with its folder. It is the folder-mode
// collaborator of the player: the player reports the clip it is playing and
// stops the watcher on shutdown.
type Watcher struct {
	store *MediaStore
	log   *slog.Logger
	fsw   *fsnotify.Watcher

	mu      sync.Mutex
	current string

	done chan struct{}
	once sync.Once
	err  error
}

// NewWatcher starts watching the store's folder and its subfolders.
func NewWatcher(store *MediaStore, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store: store,
		log:   log,
		fsw:   fsw,
		done:  make(chan struct{}),
	}
	if err := w.addTree(store.Root()); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("folder watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		fi, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if fi.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("watch new folder", slog.String("folder", event.Name), slog.String("error", err.Error()))
			}
			// Files copied in together with the folder produce no events of their own.
			_ = filepath.WalkDir(event.Name, func(path string, d fs.DirEntry, err error) error {
				if err == nil && !d.IsDir() && w.store.Add(path) {
					w.log.Info("add media", slog.String("source", path))
				}
				return nil
			})
			return
		}
		if w.store.Add(event.Name) {
			w.log.Info("add media", slog.String("source", event.Name))
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if n := w.store.Remove(event.Name); n > 0 {
			w.log.Info("remove media", slog.String("source", event.Name), slog.Int("files", n))
		}
		if w.CurrentClip() == event.Name {
			w.log.Warn("playing clip was removed", slog.String("source", event.Name))
		}
	}
}

// SetCurrentClip records the clip the player is on.
func (w *Watcher) SetCurrentClip(path string) {
	w.mu.Lock()
	w.current = path
	w.mu.Unlock()
}

// CurrentClip returns the clip last reported by the player.
func (w *Watcher) CurrentClip() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Terminate stops the watcher and waits for its event loop to end. Calls
// after the first return the first result.
func (w *Watcher) Terminate() error {
	w.once.Do(func() {
		w.err = w.fsw.Close()
		<-w.done
	})
	return w.err
}
