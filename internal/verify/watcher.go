package verify

import (
	"github.com/fsnotify/fsnotify"
)

// CacheWatcher invalidates proof-database records as soon as their source
// file changes on disk, instead of waiting for the next hash comparison at
// lookup time. Long-lived tools (watch builds, the language server host)
// run one per database.
type CacheWatcher struct {
	w      *fsnotify.Watcher
	db     *ProofDatabase
	done   chan struct{}
	events chan string
}

// NewCacheWatcher starts the event loop. Close must be called to stop it.
func NewCacheWatcher(db *ProofDatabase) (*CacheWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &CacheWatcher{w: w, db: db, done: make(chan struct{}), events: make(chan string, 16)}
	go cw.loop()
	return cw, nil
}

// Events delivers the path of each changed file after its records were
// invalidated. A slow consumer drops events; the hash check at lookup time
// covers anything missed. The channel closes with the watcher.
func (cw *CacheWatcher) Events() <-chan string { return cw.events }

// Watch adds a source file or directory to the watch set.
func (cw *CacheWatcher) Watch(path string) error { return cw.w.Add(path) }

// Unwatch removes a path from the watch set.
func (cw *CacheWatcher) Unwatch(path string) error { return cw.w.Remove(path) }

func (cw *CacheWatcher) loop() {
	defer close(cw.done)
	defer close(cw.events)
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				cw.db.InvalidateFile(ev.Name)
				select {
				case cw.events <- ev.Name:
				default:
				}
			}
		case _, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			// Watch errors are not fatal: the lazy hash check still
			// guarantees no stale fact is served.
		}
	}
}

// Close stops watching and waits for the loop to exit.
func (cw *CacheWatcher) Close() error {
	err := cw.w.Close()
	<-cw.done
	return err
}
