package annex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/engine"
	"github.com/hupe1980/annex/internal/resource"
)

// Engine owns a set of named collections and the worker pool that indexes
// them. Engines are independent of each other; there is no global state.
type Engine struct {
	opts options
	pool *engine.WorkerPool
	rc   *resource.Controller

	mu          sync.RWMutex
	collections map[string]*Collection
	closed      bool

	stopCompaction context.CancelFunc
	compactionDone chan struct{}
}

// New creates an engine.
func New(optFns ...Option) *Engine {
	o := applyOptions(optFns)

	e := &Engine{
		opts: o,
		pool: engine.NewWorkerPool(o.workers),
		rc: resource.NewController(resource.Config{
			MaxBackground:         o.compactionConcurrency,
			CompactionNodesPerSec: o.compactionRate,
			IOBytesPerSec:         o.snapshotRate,
		}),
		collections: make(map[string]*Collection),
	}

	o.logger.Info("engine started",
		"workers", e.pool.Size(),
		"cpu", distance.Capabilities(),
	)

	if o.compactionInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		e.stopCompaction = cancel
		e.compactionDone = make(chan struct{})
		go e.compactionLoop(ctx, o.compactionInterval)
	}

	return e
}

// CreateCollection creates a collection with a fixed dimension and metric.
func (e *Engine) CreateCollection(ctx context.Context, name string, dimension uint32, metric distance.Metric, optFns ...CollectionOption) (*Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrInvalidName
	}
	if dimension == 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimension)
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMetric, int(metric))
	}

	c, err := newCollection(e, name, dimension, metric, applyCollectionOptions(optFns))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		c.close()
		return nil, ErrClosed
	}
	if _, ok := e.collections[name]; ok {
		c.close()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	e.collections[name] = c

	c.logger.InfoContext(ctx, "collection created",
		"dimension", dimension,
		"metric", metric.String(),
	)
	return c, nil
}

// DropCollection removes a collection and everything stored in it.
// In-flight indexing stops at its next checkpoint.
func (e *Engine) DropCollection(ctx context.Context, name string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	c, ok := e.collections[name]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	delete(e.collections, name)
	e.mu.Unlock()

	c.close()
	c.logger.InfoContext(ctx, "collection dropped")
	return nil
}

// Collection returns the handle of the named collection.
func (e *Engine) Collection(name string) (*Collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	c, ok := e.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return c, nil
}

// HasCollection reports whether the named collection exists.
func (e *Engine) HasCollection(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.collections[name]
	return ok
}

// ListCollections returns the collection names in sorted order.
func (e *Engine) ListCollections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) snapshotCollections() []*Collection {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cs := make([]*Collection, 0, len(e.collections))
	for _, c := range e.collections {
		cs = append(cs, c)
	}
	return cs
}

func (e *Engine) compactionLoop(ctx context.Context, interval time.Duration) {
	defer close(e.compactionDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range e.snapshotCollections() {
				if _, err := c.Compact(ctx); err != nil && ctx.Err() == nil {
					c.logger.WarnContext(ctx, "background compaction failed", "error", err)
				}
			}
		}
	}
}

// Close stops background compaction, cancels outstanding indexing work and
// releases the worker pool. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cs := make([]*Collection, 0, len(e.collections))
	for _, c := range e.collections {
		cs = append(cs, c)
	}
	e.collections = make(map[string]*Collection)
	e.mu.Unlock()

	if e.stopCompaction != nil {
		e.stopCompaction()
		<-e.compactionDone
	}

	var g errgroup.Group
	for _, c := range cs {
		g.Go(func() error {
			c.close()
			return nil
		})
	}
	err := g.Wait()

	e.pool.Close()
	e.opts.logger.Info("engine closed", "collections", len(cs))
	return err
}
