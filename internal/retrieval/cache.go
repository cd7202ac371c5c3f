package retrieval

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
)

// DefaultMaxCachedIndices bounds the number of resident indices.
const DefaultMaxCachedIndices = 8

// Loader builds the index of one dataset.
type Loader interface {
	LoadIndex(ctx context.Context, dataset string) (*Index, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, dataset string) (*Index, error)

// LoadIndex implements Loader.
func (f LoaderFunc) LoadIndex(ctx context.Context, dataset string) (*Index, error) {
	return f(ctx, dataset)
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Builds    uint64 `json:"builds"`
	Evictions uint64 `json:"evictions"`
	Resident  int    `json:"resident"`
}

// IndexCache holds built indices per dataset. Concurrent first access to a
// dataset builds it once; the least recently used index is evicted when the
// cache is full.
type IndexCache struct {
	loader Loader
	group  singleflight.Group
	lru    *lru.Cache[string, *Index]
	log    *logging.Logger

	// Metrics (atomic)
	hits      uint64
	misses    uint64
	builds    uint64
	evictions uint64
}

// NewIndexCache creates a cache holding at most size indices.
func NewIndexCache(loader Loader, size int) (*IndexCache, error) {
	if loader == nil {
		return nil, fmt.Errorf("index cache: loader is required")
	}
	if size <= 0 {
		size = DefaultMaxCachedIndices
	}

	c := &IndexCache{
		loader: loader,
		log:    logging.Global().WithComponent("retrieval"),
	}
	cache, err := lru.NewWithEvict(size, func(dataset string, _ *Index) {
		atomic.AddUint64(&c.evictions, 1)
		c.log.Debug("evicted index %s", dataset)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = cache
	return c, nil
}

// Get returns the dataset's index, building it on first use.
func (c *IndexCache) Get(ctx context.Context, dataset string) (*Index, error) {
	if ix, ok := c.lru.Get(dataset); ok {
		atomic.AddUint64(&c.hits, 1)
		return ix, nil
	}
	atomic.AddUint64(&c.misses, 1)
	return c.build(ctx, dataset)
}

// Rebuild drops any cached index for dataset and builds it again.
func (c *IndexCache) Rebuild(ctx context.Context, dataset string) (*Index, error) {
	c.Invalidate(dataset)
	return c.build(ctx, dataset)
}

// Invalidate drops a dataset's cached index; the next Get rebuilds it.
func (c *IndexCache) Invalidate(dataset string) {
	c.group.Forget(dataset)
	c.lru.Remove(dataset)
}

// Stats returns the cache counters.
func (c *IndexCache) Stats() CacheStats {
	return CacheStats{
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Builds:    atomic.LoadUint64(&c.builds),
		Evictions: atomic.LoadUint64(&c.evictions),
		Resident:  c.lru.Len(),
	}
}

func (c *IndexCache) build(ctx context.Context, dataset string) (*Index, error) {
	// The build outlives any single caller waiting on it.
	buildCtx := logging.DetachContext(ctx)

	v, err, shared := c.group.Do(dataset, func() (any, error) {
		if ix, ok := c.lru.Get(dataset); ok {
			return ix, nil
		}

		ix, err := c.loader.LoadIndex(buildCtx, dataset)
		if err != nil {
			return nil, err
		}

		atomic.AddUint64(&c.builds, 1)
		metrics.IndexBuilds.WithLabelValues(dataset).Inc()
		c.log.Info("built index %s: %d passages, dimension %d", dataset, ix.Len(), ix.Dimension())

		c.lru.Add(dataset, ix)
		return ix, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", dataset, err)
	}
	if shared {
		c.log.Debug("index %s build shared between callers", dataset)
	}
	return v.(*Index), nil
}
