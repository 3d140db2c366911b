package annex

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/internal/search"
	"github.com/hupe1980/annex/metadata"
)

type options struct {
	metricsCollector      MetricsCollector
	logger                *Logger
	workers               int
	filterCacheSize       int
	compactionInterval    time.Duration
	compactionConcurrency int64
	compactionRate        int64
	snapshotRate          int64
}

// Option configures an Engine.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &annex.BasicMetricsCollector{}
//	eng := annex.New(annex.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Avg latency: %dns\n", stats.QueryCount, stats.QueryAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	eng := annex.New(annex.WithLogger(annex.NewJSONLogger(slog.LevelInfo)))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithWorkers sets the size of the indexing worker pool shared by all
// collections. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithFilterCacheSize sets how many compiled filters each collection keeps.
// 0 disables the cache.
func WithFilterCacheSize(n int) Option {
	return func(o *options) {
		o.filterCacheSize = n
	}
}

// WithCompactionInterval enables periodic background compaction of all
// collections. 0 (the default) disables it; Collection.Compact can still be
// called explicitly.
func WithCompactionInterval(d time.Duration) Option {
	return func(o *options) {
		o.compactionInterval = d
	}
}

// WithCompactionConcurrency limits how many graphs are compacted at once
// across the engine. Defaults to 1.
func WithCompactionConcurrency(n int64) Option {
	return func(o *options) {
		o.compactionConcurrency = n
	}
}

// WithCompactionRate caps how many graph nodes compaction visits per second.
// 0 means unlimited.
func WithCompactionRate(nodesPerSec int64) Option {
	return func(o *options) {
		o.compactionRate = nodesPerSec
	}
}

// WithSnapshotRate caps snapshot encoding and decoding throughput in bytes
// per second. 0 means unlimited.
func WithSnapshotRate(bytesPerSec int64) Option {
	return func(o *options) {
		o.snapshotRate = bytesPerSec
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector:      NoopMetricsCollector{},
		logger:                NoopLogger(),
		filterCacheSize:       search.DefaultFilterCacheSize,
		compactionConcurrency: 1,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

const (
	// DefaultMinEF is the smallest beam width used by queries.
	DefaultMinEF = 64
	// DefaultEFMultiplier scales k to the unfiltered beam width.
	DefaultEFMultiplier = 4
	// DefaultOverfetchFactor scales k to the first filtered beam width.
	DefaultOverfetchFactor = 10
	// DefaultMaxCandidates caps the filtered beam width.
	DefaultMaxCandidates = 4096
	// DefaultPrefilterThreshold is the largest candidate bitmap scored exactly.
	DefaultPrefilterThreshold = 2048
	// DefaultTombstoneRetention is how long tombstones survive compaction.
	DefaultTombstoneRetention = time.Minute
)

type collectionOptions struct {
	m                  int
	efConstruction     int
	minEF              int
	efMultiplier       int
	overfetchFactor    int
	maxCandidates      int
	prefilterThreshold int
	retention          time.Duration
	seed               *int64
	rand               rand.Source
	schema             metadata.Schema
}

// CollectionOption configures a collection at creation time.
type CollectionOption func(*collectionOptions)

// WithM sets the graph connectivity (max neighbors per node above layer 0).
func WithM(m int) CollectionOption {
	return func(o *collectionOptions) { o.m = m }
}

// WithEFConstruction sets the beam width used while linking new nodes.
func WithEFConstruction(ef int) CollectionOption {
	return func(o *collectionOptions) { o.efConstruction = ef }
}

// WithMinEF sets the smallest beam width used by queries.
func WithMinEF(ef int) CollectionOption {
	return func(o *collectionOptions) { o.minEF = ef }
}

// WithEFMultiplier sets the factor applied to k for unfiltered queries.
func WithEFMultiplier(f int) CollectionOption {
	return func(o *collectionOptions) { o.efMultiplier = f }
}

// WithOverfetchFactor sets the factor applied to k for the first round of a
// filtered query.
func WithOverfetchFactor(f int) CollectionOption {
	return func(o *collectionOptions) { o.overfetchFactor = f }
}

// WithMaxCandidates caps the beam width a filtered query may widen to.
func WithMaxCandidates(n int) CollectionOption {
	return func(o *collectionOptions) { o.maxCandidates = n }
}

// WithPrefilterThreshold sets the largest inverted-index candidate set that
// is scored exactly instead of searched. 0 disables the pre-filter except
// for provably empty candidate sets.
func WithPrefilterThreshold(n int) CollectionOption {
	return func(o *collectionOptions) { o.prefilterThreshold = n }
}

// WithTombstoneRetention sets how long tombstoned nodes are kept before
// compaction may reclaim them.
func WithTombstoneRetention(d time.Duration) CollectionOption {
	return func(o *collectionOptions) { o.retention = d }
}

// WithSeed makes level assignment of every namespace graph reproducible.
func WithSeed(seed int64) CollectionOption {
	return func(o *collectionOptions) { o.seed = &seed }
}

// WithRandSource injects the random source used for level assignment. The
// source is only used by the collection's single indexing writer.
func WithRandSource(src rand.Source) CollectionOption {
	return func(o *collectionOptions) { o.rand = src }
}

// WithSchema declares metadata field types. Records violating the schema
// are rejected and filters are type-checked against it.
func WithSchema(s metadata.Schema) CollectionOption {
	return func(o *collectionOptions) { o.schema = s }
}

func applyCollectionOptions(optFns []CollectionOption) collectionOptions {
	o := collectionOptions{
		m:                  hnsw.DefaultM,
		efConstruction:     hnsw.DefaultEFConstruction,
		minEF:              DefaultMinEF,
		efMultiplier:       DefaultEFMultiplier,
		overfetchFactor:    DefaultOverfetchFactor,
		maxCandidates:      DefaultMaxCandidates,
		prefilterThreshold: DefaultPrefilterThreshold,
		retention:          DefaultTombstoneRetention,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
