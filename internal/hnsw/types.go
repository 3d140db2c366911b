package hnsw

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/hupe1980/annex/distance"
)

var (
	ErrInvalidK  = errors.New("k must be positive")
	ErrInvalidEF = errors.New("ef must be at least k")
	// ErrIndexCorruption reports a violated graph invariant. It is never
	// repaired silently.
	ErrIndexCorruption = errors.New("index corruption")
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// graph dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

const (
	// DefaultM is the default number of connections per node.
	DefaultM = 16

	// DefaultEFConstruction is the default construction beam width.
	DefaultEFConstruction = 200

	mmax0Multiplier = 2
	minimumM        = 2
	maxLevelCap     = 16
)

// Options contains configuration options for the graph.
type Options struct {
	// Dimension is the required vector length.
	Dimension int

	// Metric selects the distance function. Cosine vectors are normalized on
	// insert and on search.
	Metric distance.Metric

	// M is the maximum number of connections per node above layer 0.
	M int

	// EFConstruction is the beam width used while linking new nodes.
	EFConstruction int

	// Heuristic enables the diversity heuristic for neighbor selection.
	Heuristic bool

	// Rand drives level assignment. When nil, a source seeded from Seed is
	// used, or a time-based seed when Seed is nil.
	Rand rand.Source

	// Seed makes level assignment reproducible when Rand is nil.
	Seed *int64
}

// DefaultOptions contains the default configuration options.
var DefaultOptions = Options{
	Metric:         distance.Cosine,
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	Heuristic:      true,
}

func (o *Options) validate() error {
	if o.Dimension <= 0 {
		return fmt.Errorf("hnsw: invalid dimension %d", o.Dimension)
	}
	if !o.Metric.Valid() {
		return fmt.Errorf("hnsw: unsupported metric %v", o.Metric)
	}
	if o.M < minimumM {
		return fmt.Errorf("hnsw: M must be at least %d, got %d", minimumM, o.M)
	}
	if o.EFConstruction < o.M {
		o.EFConstruction = o.M
	}
	return nil
}

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// Result is the outcome of a Search.
type Result struct {
	// Matches are ordered by ascending distance.
	Matches []SearchResult

	// Partial is set when the search stopped early because its context was
	// done. Matches then holds the best nodes found so far.
	Partial bool

	// Visited counts the nodes considered for the result set.
	Visited int
}

// Stats summarizes the graph shape.
type Stats struct {
	Nodes      int
	Live       int
	Tombstones int
	MaxLevel   int
	// LevelCounts[l] is the number of nodes whose top layer is l.
	LevelCounts []int
}

// CompactStats reports the work done by a compaction pass.
type CompactStats struct {
	// Reclaimed is the number of tombstoned nodes removed from the graph.
	Reclaimed int
	// Relinked is the number of neighbor lists rewritten.
	Relinked int
	// Retained is the number of tombstones kept for a later pass.
	Retained int
}
