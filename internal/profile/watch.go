package profile

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reports when a snapshot file is deleted or moved away by the user,
// so the owning device loop can drop its in-memory table as well.
type Watcher struct {
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	dir     string
	subs    map[string]chan struct{} // file name -> reset signal
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the store directory, creating it if needed.
func NewWatcher(store *FileStore) (*Watcher, error) {
	if err := os.MkdirAll(store.Dir(), 0o700); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher: fw,
		dir:     store.Dir(),
		subs:    make(map[string]chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Subscribe returns a channel that receives a value whenever the device's
// snapshot is removed. Signals coalesce; the channel has capacity one.
func (w *Watcher) Subscribe(device string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := FileName(device)
	ch, ok := w.subs[name]
	if !ok {
		ch = make(chan struct{}, 1)
		w.subs[name] = ch
	}
	return ch
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)
	log.Debug().Str("dir", w.dir).Msg("Profile watcher started")

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.notify(filepath.Base(ev.Name))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Profile watcher error")
		}
	}
}

func (w *Watcher) notify(name string) {
	w.mu.RLock()
	ch, ok := w.subs[name]
	w.mu.RUnlock()
	if !ok {
		return
	}

	log.Info().Str("file", name).Msg("Profile file removed, resetting learned state")
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Close stops the underlying watcher. Run returns once its context is done
// or the event channel closes.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Done is closed when Run has returned.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}
