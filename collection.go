package annex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/engine"
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/internal/records"
	"github.com/hupe1980/annex/internal/search"
	"github.com/hupe1980/annex/metadata"
)

// Record is a vector with its id and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// PendingToken identifies an accepted upsert batch.
type PendingToken = uuid.UUID

// UpsertResult reports the outcome of an upsert batch.
type UpsertResult struct {
	// Token tracks indexing progress of the accepted records.
	Token PendingToken
	// Upserted is the number of records stored.
	Upserted int
	// Failed lists the rejected records.
	Failed []RecordError
}

// FailedIDs returns the ids of the rejected records.
func (r *UpsertResult) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Visibility is the indexing progress of a pending token. Indexed records
// are searchable. Failed records are stored but could not be linked into
// the graph; they are logged and counted in NamespaceStats.FailedCount.
type Visibility struct {
	Indexed int
	Failed  int
	Total   int
}

// Done reports whether no record of the batch is still waiting for the
// indexer. Records superseded before they could be linked count as indexed.
func (v Visibility) Done() bool { return v.Indexed+v.Failed >= v.Total }

// Visible reports whether every record of the batch is searchable.
func (v Visibility) Visible() bool { return v.Indexed >= v.Total }

// NamespaceStats describes one namespace.
type NamespaceStats struct {
	VectorCount  int
	PendingCount int
	FailedCount  int
	GraphNodes   int
	Tombstones   int
}

// Stats aggregates namespace counters.
type Stats struct {
	VectorCount  int
	PendingCount int
	FailedCount  int
	Namespaces   map[string]NamespaceStats
}

// Description describes a collection.
type Description struct {
	Name       string
	Dimension  uint32
	Metric     distance.Metric
	Namespaces map[string]NamespaceStats
}

// CompactStats summarizes a compaction run over all namespaces.
type CompactStats struct {
	Reclaimed int
	Relinked  int
	Retained  int
}

// Collection is a handle to one collection of an Engine. All methods are
// safe for concurrent use.
type Collection struct {
	name   string
	dim    uint32
	metric distance.Metric
	cfg    collectionOptions

	engine  *Engine
	logger  *Logger
	metrics MetricsCollector

	store   *records.Store
	tokens  *engine.Tokens
	indexer *engine.Indexer
	filters *search.FilterCache

	graphsMu sync.RWMutex
	graphs   map[string]*hnsw.Graph

	closed atomic.Bool
}

func newCollection(e *Engine, name string, dim uint32, metric distance.Metric, cfg collectionOptions) (*Collection, error) {
	c := &Collection{
		name:    name,
		dim:     dim,
		metric:  metric,
		cfg:     cfg,
		engine:  e,
		logger:  e.opts.logger.WithCollection(name),
		metrics: e.opts.metricsCollector,
		store:   records.New(),
		tokens:  engine.NewTokens(),
		filters: search.NewFilterCache(e.opts.filterCacheSize, cfg.schema),
		graphs:  make(map[string]*hnsw.Graph),
	}

	// Reject bad graph options up front rather than on the first insert.
	if _, err := c.newGraph(); err != nil {
		return nil, err
	}

	c.indexer = engine.NewIndexer(e.pool, c.tokens, c.index, engine.IndexerOptions{
		OnError: func(job engine.Job, err error) {
			c.store.Fail(job.Namespace, job.ID, job.Version)
			c.logger.Error("indexing failed",
				"namespace", job.Namespace,
				"id", job.ID,
				"error", err,
			)
		},
		OnBatch: func(n int, elapsed time.Duration) {
			c.metrics.RecordIndexed(n, elapsed)
			c.logger.LogIndexBatch(context.Background(), n, elapsed)
		},
	})
	return c, nil
}

func (c *Collection) newGraph() (*hnsw.Graph, error) {
	return hnsw.New(func(o *hnsw.Options) {
		o.Dimension = int(c.dim)
		o.Metric = c.metric
		o.M = c.cfg.m
		o.EFConstruction = c.cfg.efConstruction
		o.Rand = c.cfg.rand
		o.Seed = c.cfg.seed
	})
}

// graph returns the graph of ns, or nil if nothing was indexed there yet.
func (c *Collection) graph(ns string) *hnsw.Graph {
	c.graphsMu.RLock()
	defer c.graphsMu.RUnlock()
	return c.graphs[ns]
}

func (c *Collection) graphForWrite(ns string) (*hnsw.Graph, error) {
	if g := c.graph(ns); g != nil {
		return g, nil
	}

	c.graphsMu.Lock()
	defer c.graphsMu.Unlock()

	if g, ok := c.graphs[ns]; ok {
		return g, nil
	}
	g, err := c.newGraph()
	if err != nil {
		return nil, err
	}
	c.graphs[ns] = g
	return g, nil
}

func (c *Collection) namespaceGraphs() map[string]*hnsw.Graph {
	c.graphsMu.RLock()
	defer c.graphsMu.RUnlock()

	out := make(map[string]*hnsw.Graph, len(c.graphs))
	for ns, g := range c.graphs {
		out[ns] = g
	}
	return out
}

// index links one stored record into its namespace graph. It runs on the
// collection's single indexing writer.
func (c *Collection) index(ctx context.Context, job engine.Job) error {
	if e, ok := c.store.Get(job.Namespace, job.ID); !ok || e.Version != job.Version {
		// Superseded or deleted before indexing.
		return nil
	}

	g, err := c.graphForWrite(job.Namespace)
	if err != nil {
		return err
	}
	node, err := g.Insert(ctx, job.Vector)
	if err != nil {
		return err
	}
	if !c.store.Bind(job.Namespace, job.ID, job.Version, node) {
		g.Delete(node)
	}
	return nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the vector dimension.
func (c *Collection) Dimension() uint32 { return c.dim }

// Metric returns the distance metric.
func (c *Collection) Metric() distance.Metric { return c.metric }

func (c *Collection) checkOpen() error {
	if c.closed.Load() {
		return fmt.Errorf("%w: collection %q", ErrClosed, c.name)
	}
	return nil
}

func (c *Collection) validateVector(vec []float32) error {
	if len(vec) != int(c.dim) {
		return &ErrDimensionMismatch{Expected: int(c.dim), Actual: len(vec)}
	}
	for _, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: vector contains NaN or Inf", ErrInvalidRecord)
		}
	}
	if c.metric == distance.Cosine && distance.Norm(vec) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, distance.ErrZeroVector)
	}
	return nil
}

func (c *Collection) prepareRecord(r Record) (metadata.Document, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if err := c.validateVector(r.Vector); err != nil {
		return nil, err
	}
	doc, err := metadata.DocumentFromAny(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if err := c.cfg.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return doc, nil
}

// Upsert stores records in namespace, replacing records with the same id.
//
// Valid records are stored before Upsert returns and are immediately
// visible to Fetch and Stats; they become searchable once the background
// indexer has linked them (see IsVisible). Invalid records are rejected
// individually and listed in UpsertResult.Failed; the rest of the batch is
// still committed.
func (c *Collection) Upsert(ctx context.Context, namespace string, recs []Record) (*UpsertResult, error) {
	start := time.Now()
	res, err := c.upsert(ctx, namespace, recs)
	failed := 0
	if res != nil {
		failed = len(res.Failed)
	}
	c.metrics.RecordUpsert(len(recs), failed, time.Since(start), err)
	c.logger.LogUpsert(ctx, namespace, len(recs), failed, err)
	return res, err
}

func (c *Collection) upsert(ctx context.Context, namespace string, recs []Record) (*UpsertResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type accepted struct {
		rec Record
		doc metadata.Document
	}

	res := &UpsertResult{}
	valid := make([]accepted, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i, r := range recs {
		doc, err := c.prepareRecord(r)
		if err == nil {
			if _, dup := seen[r.ID]; dup {
				err = fmt.Errorf("%w: duplicate id %q in batch", ErrInvalidRecord, r.ID)
			}
		}
		if err != nil {
			res.Failed = append(res.Failed, RecordError{Index: i, ID: r.ID, Err: err})
			continue
		}
		seen[r.ID] = struct{}{}
		valid = append(valid, accepted{rec: r, doc: doc})
	}

	res.Token = c.tokens.Issue(len(valid))
	res.Upserted = len(valid)

	jobs := make([]engine.Job, 0, len(valid))
	for _, a := range valid {
		e, old, replaced := c.store.Put(namespace, a.rec.ID, a.rec.Vector, a.doc)
		if replaced {
			if g := c.graph(namespace); g != nil {
				g.Delete(old)
			}
		}
		jobs = append(jobs, engine.Job{
			Namespace: namespace,
			ID:        e.ID,
			Version:   e.Version,
			Vector:    e.Vector,
			Token:     res.Token,
		})
	}

	if err := c.indexer.Enqueue(jobs...); err != nil {
		return res, translateError(err)
	}
	return res, nil
}

// Delete removes the records with the given ids from namespace. Their graph
// nodes are tombstoned immediately; unknown ids are ignored.
func (c *Collection) Delete(ctx context.Context, namespace string, ids []string) error {
	start := time.Now()
	err := c.checkOpen()
	removed := 0
	if err == nil {
		nodes := c.store.Delete(namespace, ids)
		if g := c.graph(namespace); g != nil {
			for _, n := range nodes {
				if g.Delete(n) {
					removed++
				}
			}
		}
	}
	c.metrics.RecordDelete(len(ids), time.Since(start), err)
	c.logger.LogDelete(ctx, namespace, len(ids), removed, err)
	return err
}

// DeleteNamespace removes namespace together with its records and graph.
func (c *Collection) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.store.DropNamespace(namespace)
	c.graphsMu.Lock()
	delete(c.graphs, namespace)
	c.graphsMu.Unlock()

	c.logger.InfoContext(ctx, "namespace deleted", "namespace", namespace)
	return nil
}

// Fetch returns the stored records with the given ids. Missing ids are
// omitted. Fetch sees every acknowledged write, indexed or not.
func (c *Collection) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		e, ok := c.store.Get(namespace, id)
		if !ok {
			continue
		}
		out[id] = Record{
			ID:       e.ID,
			Vector:   slices.Clone(e.Vector),
			Metadata: e.Metadata.ToAny(),
		}
	}
	return out, nil
}

// IsVisible reports how many records of the batch identified by token are
// searchable.
func (c *Collection) IsVisible(token PendingToken) (Visibility, error) {
	if err := c.checkOpen(); err != nil {
		return Visibility{}, err
	}
	p, err := c.tokens.Progress(token)
	if err != nil {
		return Visibility{}, translateError(err)
	}
	return Visibility{Indexed: p.Indexed, Failed: p.Failed, Total: p.Total}, nil
}

// ForgetToken releases the progress state of token.
func (c *Collection) ForgetToken(token PendingToken) error {
	if !c.tokens.Forget(token) {
		return ErrUnknownToken
	}
	return nil
}

// WaitIndexed blocks until the indexing queue is drained or ctx is done.
func (c *Collection) WaitIndexed(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.indexer.Wait(ctx)
}

func (c *Collection) namespaceStats(ns string) NamespaceStats {
	counts := c.store.Counts(ns)
	st := NamespaceStats{VectorCount: counts.Vectors, PendingCount: counts.Pending, FailedCount: counts.Failed}
	if g := c.graph(ns); g != nil {
		st.GraphNodes = g.Len()
		st.Tombstones = g.Tombstones()
	}
	return st
}

// Stats returns the counters of the given namespaces, or of all namespaces
// when none are given. Counts are immediately consistent with acknowledged
// writes.
func (c *Collection) Stats(namespaces ...string) Stats {
	if len(namespaces) == 0 {
		namespaces = c.store.Namespaces()
	}

	st := Stats{Namespaces: make(map[string]NamespaceStats, len(namespaces))}
	for _, ns := range namespaces {
		nst := c.namespaceStats(ns)
		st.Namespaces[ns] = nst
		st.VectorCount += nst.VectorCount
		st.PendingCount += nst.PendingCount
		st.FailedCount += nst.FailedCount
	}
	return st
}

// Describe returns the collection configuration and namespace counters.
func (c *Collection) Describe() Description {
	return Description{
		Name:       c.name,
		Dimension:  c.dim,
		Metric:     c.metric,
		Namespaces: c.Stats().Namespaces,
	}
}

// Compact reclaims tombstones older than the retention period from every
// namespace graph and repairs the neighborhoods around them.
func (c *Collection) Compact(ctx context.Context) (CompactStats, error) {
	if err := c.checkOpen(); err != nil {
		return CompactStats{}, err
	}

	graphs := c.namespaceGraphs()
	names := make([]string, 0, len(graphs))
	for ns := range graphs {
		names = append(names, ns)
	}
	sort.Strings(names)

	var total CompactStats
	rc := c.engine.rc
	for _, ns := range names {
		g := graphs[ns]
		if g.Tombstones() == 0 {
			continue
		}
		if err := rc.AcquireBackground(ctx); err != nil {
			return total, err
		}

		start := time.Now()
		st, err := g.Compact(ctx, hnsw.CompactOptions{
			Retention: c.cfg.retention,
			Pace:      rc.PaceNode,
		})
		rc.ReleaseBackground()

		err = translateError(err)
		c.metrics.RecordCompaction(st.Reclaimed, st.Relinked, time.Since(start), err)
		c.logger.LogCompaction(ctx, ns, st.Reclaimed, st.Relinked, err)
		if err != nil {
			return total, err
		}
		total.Reclaimed += st.Reclaimed
		total.Relinked += st.Relinked
		total.Retained += st.Retained
	}
	return total, nil
}

// Validate checks the structural invariants of every namespace graph.
func (c *Collection) Validate() error {
	var errs []error
	for ns, g := range c.namespaceGraphs() {
		if err := g.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("namespace %q: %w", ns, translateError(err)))
		}
	}
	return errors.Join(errs...)
}

func (c *Collection) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.indexer.Close()
}
