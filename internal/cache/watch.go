package cache

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
)

// Watcher invalidates a RuleCache whenever files in a storage directory
// change, so rules edited by another process reach a running dispatcher.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching dir and invalidates c on every write, create,
// remove or rename. Close stops it.
func Watch(c *RuleCache, dir string, log *zap.Logger) (*Watcher, error) {
	log = logging.OrNop(log).Named("cache-watch")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
					ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					log.Debug("storage changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
					c.InvalidateAll()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("watch error", zap.Error(err))
			}
		}
	}()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
