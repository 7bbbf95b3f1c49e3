package data

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads handles when their database files are replaced on disk.
// It watches the parent directories so that atomic rename-into-place updates
// are seen as well as in-place writes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	handles  map[string]*Handle
	debounce time.Duration
	maxRetry time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher starts watching the files behind handles. Events for the same
// file are coalesced until debounce has passed without a new one.
func NewWatcher(handles []*Handle, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fsw,
		handles:  make(map[string]*Handle, len(handles)),
		debounce: debounce,
		maxRetry: 30 * time.Second,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
	}

	dirs := make(map[string]struct{})
	for _, h := range handles {
		path, err := filepath.Abs(h.Path())
		if err != nil {
			path = filepath.Clean(h.Path())
		}
		w.handles[path] = h
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			cancel()
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logger.Debug("watching database directory", "dir", dir)
	}

	w.wg.Add(1)
	go w.eventLoop()

	logger.Info("database watcher started", "files", len(w.handles))
	return w, nil
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil {
				path = filepath.Clean(event.Name)
			}
			if h, ok := w.handles[path]; ok {
				w.logger.Debug("database file changed", "file", event.Name, "op", event.Op.String())
				w.schedule(path, h)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// schedule arms the debounce timer for path. Every armed firing is counted in
// wg so that Close waits for reloads already under way.
func (w *Watcher) schedule(path string, h *Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	if t, ok := w.timers[path]; ok {
		if !t.Reset(w.debounce) {
			// Already fired; the reset arms a second run.
			w.wg.Add(1)
		}
		return
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.reload(h)
	})
}

// reload retries while the new file is still incomplete, e.g. mid-copy.
func (w *Watcher) reload(h *Handle) {
	if w.ctx.Err() != nil {
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = w.maxRetry

	err := backoff.RetryNotify(h.Reload, backoff.WithContext(b, w.ctx), func(err error, next time.Duration) {
		w.logger.Warn("database reload failed, retrying", "database", h.Name(), "error", err, "retry_in", next)
	})
	if err != nil {
		w.logger.Error("database reload gave up, keeping previous version", "database", h.Name(), "error", err)
	}
}

// Close stops the watcher. Pending reloads are dropped and a reload already
// running is waited for, so no handle is reopened after Close returns.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	return nil
}
