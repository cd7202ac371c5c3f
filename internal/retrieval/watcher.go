package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/normanking/netbot/internal/logging"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-ingests knowledge files when they change and rebuilds their
// cached index so the next retrieval sees the new content.
type Watcher struct {
	pipeline *Pipeline
	cache    *IndexCache
	debounce time.Duration
	log      *logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup

	// onIngest is called after each re-ingestion attempt.
	onIngest func(dataset string, err error)
}

// NewWatcher creates a watcher over the pipeline's data directory.
func NewWatcher(pipeline *Pipeline, cache *IndexCache, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		pipeline: pipeline,
		cache:    cache,
		debounce: debounce,
		log:      logging.Global().WithComponent("watcher"),
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches the data directory until ctx is done. It returns once the
// fsnotify watcher cannot be started, or nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dir := w.pipeline.DataDir()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.log.Info("watching %s for knowledge file changes (debounce: %v)", dir, w.debounce)

	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".txt") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error: %v", err)
		}
	}
}

// schedule (re)starts the debounce timer for one file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.fire(ctx, path, t)
	})
	w.timers[path] = t
}

// fire runs when t expires. A newer timer for the same path keeps its entry.
func (w *Watcher) fire(ctx context.Context, path string, t *time.Timer) {
	defer w.wg.Done()

	w.mu.Lock()
	if w.timers[path] == t {
		delete(w.timers, path)
	}
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	w.reingest(ctx, path)
}

func (w *Watcher) reingest(ctx context.Context, path string) {
	dataset := DatasetID(path)

	_, err := w.pipeline.Ingest(ctx, dataset, path, true)
	if err != nil {
		w.log.Error("re-ingest %s failed: %v", dataset, err)
	} else if _, rerr := w.cache.Rebuild(ctx, dataset); rerr != nil {
		w.cache.Invalidate(dataset)
		w.log.Warn("re-ingested %s, index rebuild failed: %v", dataset, rerr)
	} else {
		w.log.Info("re-ingested %s and rebuilt its index", dataset)
	}

	if w.onIngest != nil {
		w.onIngest(dataset, err)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
