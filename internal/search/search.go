// Package search plans and executes namespace queries against a graph and
// its record table.
//
// Three strategies are used:
//
//   - Graph: unfiltered beam search with ef = max(ef, k*EFMultiplier, MinEF).
//   - PostFilter: over-fetch ef' = k*OverfetchFactor candidates, drop those
//     rejected by the filter and double ef' up to MaxCandidates while fewer
//     than k survive.
//   - PreFilter: when the inverted index narrows the filter to at most
//     PrefilterThreshold nodes, those nodes are scored exactly.
package search

import (
	"context"
	"errors"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/internal/records"
	"github.com/hupe1980/annex/metadata"
)

// ErrInvalidParams is returned for k <= 0 or an explicit ef below k.
var ErrInvalidParams = errors.New("invalid query parameters")

// Strategy names the execution path of a query.
type Strategy string

const (
	StrategyEmpty      Strategy = "empty"
	StrategyGraph      Strategy = "graph"
	StrategyPostFilter Strategy = "postfilter"
	StrategyPreFilter  Strategy = "prefilter"
)

// Graph is the ANN index of one namespace.
type Graph interface {
	Search(ctx context.Context, q []float32, k, ef int, accept func(id uint32) bool) (hnsw.Result, error)
	BruteSearch(ctx context.Context, q []float32, k int, ids iter.Seq[uint32]) (hnsw.Result, error)
	Live() int
}

// Records resolves graph nodes to stored records.
type Records interface {
	Resolve(node uint32) (records.Entry, bool)
	Candidates(f *metadata.Filter) (*roaring.Bitmap, bool)
}

// Params describes one query.
type Params struct {
	K int
	// EF is the requested beam width; 0 selects it automatically.
	EF     int
	Filter *metadata.Filter
	Metric distance.Metric

	MinEF              int
	EFMultiplier       int
	OverfetchFactor    int
	MaxCandidates      int
	PrefilterThreshold int
}

// Validate checks the caller-supplied parameters.
func (p Params) Validate() error {
	if p.K <= 0 {
		return ErrInvalidParams
	}
	if p.EF != 0 && p.EF < p.K {
		return ErrInvalidParams
	}
	return nil
}

// Hit is one ranked match.
type Hit struct {
	Entry    records.Entry
	Distance float32
	Score    float32
}

// Result is the outcome of a query.
type Result struct {
	Hits     []Hit
	Partial  bool
	Strategy Strategy
	// Rounds is the number of graph searches performed.
	Rounds int
	// Visited is the number of nodes considered.
	Visited int
}

// Run executes the query described by p.
func Run(ctx context.Context, g Graph, recs Records, q []float32, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if g == nil || g.Live() == 0 {
		return Result{Strategy: StrategyEmpty}, nil
	}

	if p.Filter.IsEmpty() {
		return runGraph(ctx, g, recs, q, p)
	}
	if bm, ok := recs.Candidates(p.Filter); ok && bm.GetCardinality() <= uint64(max(p.PrefilterThreshold, 0)) {
		return runPreFilter(ctx, g, recs, q, p, bm)
	}
	return runPostFilter(ctx, g, recs, q, p)
}

func runGraph(ctx context.Context, g Graph, recs Records, q []float32, p Params) (Result, error) {
	ef := max(p.EF, satMul(p.K, p.EFMultiplier), p.MinEF, p.K)

	// Nodes that are linked but not yet bound, or already superseded, are
	// skipped so they do not take result slots.
	bound := func(id uint32) bool {
		_, ok := recs.Resolve(id)
		return ok
	}
	res, err := g.Search(ctx, q, p.K, ef, bound)
	if err != nil {
		return Result{}, err
	}

	out := Result{Strategy: StrategyGraph, Partial: res.Partial, Rounds: 1, Visited: res.Visited}
	out.Hits = collect(recs, res.Matches, p, nil)
	return out, nil
}

func runPostFilter(ctx context.Context, g Graph, recs Records, q []float32, p Params) (Result, error) {
	limit := max(p.MaxCandidates, p.K)
	ef := min(max(p.EF, satMul(p.K, p.OverfetchFactor), p.K), limit)

	bound := func(id uint32) bool {
		_, ok := recs.Resolve(id)
		return ok
	}

	out := Result{Strategy: StrategyPostFilter}
	for {
		res, err := g.Search(ctx, q, ef, ef, bound)
		if err != nil {
			return Result{}, err
		}
		out.Rounds++
		out.Visited += res.Visited
		out.Partial = res.Partial
		out.Hits = collect(recs, res.Matches, p, p.Filter)

		exhausted := len(res.Matches) < ef || ef >= g.Live()
		if len(out.Hits) >= p.K || res.Partial || exhausted || ef >= limit {
			break
		}
		ef = min(satMul(ef, 2), limit)
	}
	return out, nil
}

func runPreFilter(ctx context.Context, g Graph, recs Records, q []float32, p Params, bm *roaring.Bitmap) (Result, error) {
	out := Result{Strategy: StrategyPreFilter}
	if bm.IsEmpty() {
		return out, nil
	}

	// The bitmap only covers indexable clauses; re-check the full filter.
	ids := func(yield func(uint32) bool) {
		it := bm.Iterator()
		for it.HasNext() {
			id := it.Next()
			e, ok := recs.Resolve(id)
			if !ok || !p.Filter.Matches(e.Metadata) {
				continue
			}
			if !yield(id) {
				return
			}
		}
	}

	res, err := g.BruteSearch(ctx, q, p.K, ids)
	if err != nil {
		return Result{}, err
	}
	out.Rounds = 1
	out.Visited = res.Visited
	out.Partial = res.Partial
	out.Hits = collect(recs, res.Matches, p, p.Filter)
	return out, nil
}

// collect resolves matches, applies f and returns the best k hits ranked by
// score, ties broken by ascending record id.
func collect(recs Records, matches []hnsw.SearchResult, p Params, f *metadata.Filter) []Hit {
	hits := make([]Hit, 0, min(len(matches), p.K))
	for _, m := range matches {
		e, ok := recs.Resolve(m.ID)
		if !ok {
			continue
		}
		if f != nil && !f.Matches(e.Metadata) {
			continue
		}
		hits = append(hits, Hit{Entry: e, Distance: m.Distance, Score: distance.Score(p.Metric, m.Distance)})
	}
	Rank(hits)
	if len(hits) > p.K {
		hits = hits[:p.K]
	}
	return hits
}

// satMul returns a*b for non-negative operands, saturating at math.MaxInt.
func satMul(a, b int) int {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}

// Rank sorts hits by descending score, then ascending record id.
func Rank(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.Entry.ID, b.Entry.ID)
		}
	})
}
