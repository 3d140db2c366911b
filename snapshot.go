package annex

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/annex/blobstore"
	"github.com/hupe1980/annex/codec"
	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/engine"
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/internal/records"
	"github.com/hupe1980/annex/persistence"
)

type snapshotOptions struct {
	codec       codec.Codec
	compression persistence.Compression
	retain      int
}

// SnapshotOption configures SaveCollection.
type SnapshotOption func(*snapshotOptions)

// WithSnapshotCodec sets the codec used to serialize snapshots.
// Defaults to msgpack.
func WithSnapshotCodec(c codec.Codec) SnapshotOption {
	return func(o *snapshotOptions) { o.codec = c }
}

// WithSnapshotCompression sets the block compression of snapshots.
// Defaults to zstd.
func WithSnapshotCompression(c persistence.Compression) SnapshotOption {
	return func(o *snapshotOptions) { o.compression = c }
}

// WithSnapshotRetain sets how many snapshot files per collection are kept.
func WithSnapshotRetain(n int) SnapshotOption {
	return func(o *snapshotOptions) { o.retain = n }
}

func (e *Engine) snapshotManager(store blobstore.Store, optFns []SnapshotOption) *persistence.Manager {
	o := snapshotOptions{compression: persistence.CompressionZSTD}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return persistence.NewManager(store, persistence.ManagerOptions{
		Codec:       o.codec,
		Compression: o.compression,
		Retain:      o.retain,
		Resources:   e.rc,
	})
}

// SaveCollection writes a snapshot of the named collection to store and
// commits it as the collection's current snapshot. Writes that race with
// the snapshot are either fully contained or absent; records that were not
// yet indexed are re-indexed on restore.
func (e *Engine) SaveCollection(ctx context.Context, name string, store blobstore.Store, optFns ...SnapshotOption) error {
	c, err := e.Collection(name)
	if err != nil {
		return err
	}

	snap := c.snapshot()
	info, err := e.snapshotManager(store, optFns).Save(ctx, snap)
	key := ""
	if info != nil {
		key = info.Key
	}
	c.logger.LogSnapshot(ctx, "save", key, err)
	return err
}

// RestoreCollection loads the current snapshot of the named collection from
// store and registers it with the engine. Graphs are imported as saved and
// validated; records without a live graph node are queued for indexing.
func (e *Engine) RestoreCollection(ctx context.Context, name string, store blobstore.Store) (*Collection, error) {
	if e.HasCollection(name) {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}

	snap, err := e.snapshotManager(store, nil).Load(ctx, name)
	if err != nil {
		e.opts.logger.ErrorContext(ctx, "snapshot load failed", "collection", name, "error", err)
		return nil, err
	}

	c, err := e.restore(ctx, name, snap)
	if err != nil {
		return nil, err
	}
	c.logger.LogSnapshot(ctx, "restore", name, nil)
	return c, nil
}

// ListSnapshots returns the names of the collections with snapshots in store.
func (e *Engine) ListSnapshots(ctx context.Context, store blobstore.Store) ([]string, error) {
	return e.snapshotManager(store, nil).List(ctx)
}

// DeleteSnapshots removes every snapshot of the named collection from store.
func (e *Engine) DeleteSnapshots(ctx context.Context, name string, store blobstore.Store) error {
	return e.snapshotManager(store, nil).Delete(ctx, name)
}

// snapshot copies the collection. Graphs are exported before records so a
// record bound during the copy refers to a node that may be missing from
// the exported graph; restore treats such records as unindexed.
func (c *Collection) snapshot() *persistence.Snapshot {
	snap := &persistence.Snapshot{
		Config: persistence.Config{
			Name:               c.name,
			Dimension:          c.dim,
			Metric:             c.metric.String(),
			M:                  c.cfg.m,
			EFConstruction:     c.cfg.efConstruction,
			MinEF:              c.cfg.minEF,
			EFMultiplier:       c.cfg.efMultiplier,
			OverfetchFactor:    c.cfg.overfetchFactor,
			MaxCandidates:      c.cfg.maxCandidates,
			PrefilterThreshold: c.cfg.prefilterThreshold,
			RetentionNanos:     int64(c.cfg.retention),
			Schema:             c.cfg.schema,
		},
		CreatedAt: time.Now().UnixNano(),
	}

	graphs := c.namespaceGraphs()
	exported := make(map[string]*hnsw.Data, len(graphs))
	for ns, g := range graphs {
		exported[ns] = g.Export()
	}

	names := c.store.Namespaces()
	for ns := range exported {
		if !slices.Contains(names, ns) {
			names = append(names, ns)
		}
	}
	slices.Sort(names)

	for _, ns := range names {
		pns := persistence.Namespace{Name: ns, Graph: exported[ns]}
		for e := range c.store.Entries(ns) {
			pns.Records = append(pns.Records, persistence.Record{
				ID:       e.ID,
				Vector:   e.Vector,
				Metadata: e.Metadata,
				Version:  e.Version,
				Node:     e.Node,
				Indexed:  e.Indexed,
			})
		}
		snap.Namespaces = append(snap.Namespaces, pns)
	}
	return snap
}

func (e *Engine) restore(ctx context.Context, name string, snap *persistence.Snapshot) (*Collection, error) {
	cfg := snap.Config
	metric, err := distance.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexCorruption, err)
	}
	if cfg.Dimension == 0 {
		return nil, fmt.Errorf("%w: snapshot dimension 0", ErrIndexCorruption)
	}

	opts := applyCollectionOptions(nil)
	opts.m = cfg.M
	opts.efConstruction = cfg.EFConstruction
	opts.minEF = cfg.MinEF
	opts.efMultiplier = cfg.EFMultiplier
	opts.overfetchFactor = cfg.OverfetchFactor
	opts.maxCandidates = cfg.MaxCandidates
	opts.prefilterThreshold = cfg.PrefilterThreshold
	opts.retention = time.Duration(cfg.RetentionNanos)
	opts.schema = cfg.Schema

	c, err := newCollection(e, name, cfg.Dimension, metric, opts)
	if err != nil {
		return nil, err
	}

	jobs, err := c.load(snap)
	if err != nil {
		c.close()
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		c.close()
		return nil, ErrClosed
	}
	if _, ok := e.collections[name]; ok {
		e.mu.Unlock()
		c.close()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	e.collections[name] = c
	e.mu.Unlock()

	if len(jobs) > 0 {
		tok := c.tokens.Issue(len(jobs))
		for i := range jobs {
			jobs[i].Token = tok
		}
		if err := c.indexer.Enqueue(jobs...); err != nil {
			return nil, translateError(err)
		}
	}

	c.logger.InfoContext(ctx, "collection restored",
		"records", snap.Records(),
		"reindex", len(jobs),
	)
	return c, nil
}

// load fills an empty collection from snap and returns the index jobs of
// records that have no live graph node.
func (c *Collection) load(snap *persistence.Snapshot) ([]engine.Job, error) {
	var jobs []engine.Job
	for _, pns := range snap.Namespaces {
		var g *hnsw.Graph
		if pns.Graph != nil && len(pns.Graph.Nodes) > 0 {
			ng, err := c.newGraph()
			if err != nil {
				return nil, err
			}
			if err := ng.Import(pns.Graph); err != nil {
				return nil, fmt.Errorf("namespace %q: %w", pns.Name, translateError(err))
			}
			g = ng
			c.graphs[pns.Name] = g
		}

		bound := make(map[uint32]struct{}, len(pns.Records))
		for _, r := range pns.Records {
			if len(r.Vector) != int(c.dim) {
				return nil, fmt.Errorf("%w: record %q: %w", ErrIndexCorruption, r.ID,
					&ErrDimensionMismatch{Expected: int(c.dim), Actual: len(r.Vector)})
			}

			entry := records.Entry{
				ID:       r.ID,
				Vector:   r.Vector,
				Metadata: r.Metadata,
				Version:  r.Version,
				Node:     r.Node,
				Indexed:  r.Indexed,
			}
			if entry.Indexed {
				_, dup := bound[entry.Node]
				if g == nil || g.IsDeleted(entry.Node) || dup {
					entry.Indexed = false
				}
			}
			if entry.Indexed {
				bound[entry.Node] = struct{}{}
			} else {
				entry.Node = 0
				jobs = append(jobs, engine.Job{
					Namespace: pns.Name,
					ID:        entry.ID,
					Version:   entry.Version,
					Vector:    entry.Vector,
				})
			}
			c.store.Restore(pns.Name, entry)
		}

		// Live nodes no record points at belong to writes the records copy
		// did not see.
		if g != nil {
			for _, nd := range pns.Graph.Nodes {
				if _, ok := bound[nd.ID]; !ok && !nd.Deleted {
					g.Delete(nd.ID)
				}
			}
		}
	}
	return jobs, nil
}
