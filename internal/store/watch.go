package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	watchTick     = 50 * time.Millisecond
	watchDebounce = 20 * time.Millisecond
)

// watcher republishes snapshots after another process commits to the
// database. File events only mark the store dirty; PRAGMA data_version
// decides whether a foreign commit actually happened, so this process's own
// writes do not cause extra reloads.
type watcher struct {
	s    *Store
	fs   *fsnotify.Watcher
	stop chan struct{}
	wg   sync.WaitGroup

	lastVersion int64
	dirtyAt     time.Time
}

func newWatcher(ctx context.Context, s *Store) (*watcher, error) {
	v, err := dataVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: the -wal and -shm files come and go.
	if err := fw.Add(s.Dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &watcher{
		s:           s,
		fs:          fw,
		stop:        make(chan struct{}),
		lastVersion: v,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *watcher) close() {
	close(w.stop)
	w.wg.Wait()
}

func (w *watcher) run() {
	defer w.wg.Done()
	defer func() { _ = w.fs.Close() }()

	tick := time.NewTicker(watchTick)
	defer tick.Stop()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), dbFileName) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.dirtyAt = time.Now()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.s.log.Warn("error watching database", zap.Error(err))
		case <-tick.C:
			if w.dirtyAt.IsZero() || time.Since(w.dirtyAt) < watchDebounce {
				continue
			}
			w.dirtyAt = time.Time{}
			w.check()
		}
	}
}

func (w *watcher) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := dataVersion(ctx, w.s.db)
	if err != nil {
		w.s.log.Warn("read data_version", zap.Error(err))
		return
	}
	if v == w.lastVersion {
		return
	}
	w.lastVersion = v
	w.s.log.Debug("database changed by another process; republishing")
	w.s.feed.NotifyAll()
}
