package search

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/internal/records"
	"github.com/hupe1980/annex/metadata"
	"github.com/hupe1980/annex/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	graph   *hnsw.Graph
	store   *records.Store
	vectors [][]float32
	docs    []metadata.Document
}

func recordID(i int) string { return fmt.Sprintf("rec-%04d", i) }

func newFixture(t *testing.T, n, dim int) *fixture {
	t.Helper()

	seed := int64(99)
	g, err := hnsw.New(func(o *hnsw.Options) {
		o.Dimension = dim
		o.Metric = distance.Cosine
		o.Seed = &seed
	})
	require.NoError(t, err)

	rng := testutil.NewRNG(7)
	f := &fixture{graph: g, store: records.New(), vectors: rng.UnitVectors(n, dim)}
	for i, v := range f.vectors {
		doc := metadata.Document{
			"bucket": metadata.Int(int64(i % 10)),
			"year":   metadata.Int(int64(2000 + i%30)),
		}
		f.docs = append(f.docs, doc)

		e, _, _ := f.store.Put("", recordID(i), v, doc)
		node, err := g.Insert(context.Background(), v)
		require.NoError(t, err)
		require.True(t, f.store.Bind("", e.ID, e.Version, node))
	}
	return f
}

func defaultParams(k int) Params {
	return Params{
		K:                  k,
		Metric:             distance.Cosine,
		MinEF:              64,
		EFMultiplier:       4,
		OverfetchFactor:    10,
		MaxCandidates:      1000,
		PrefilterThreshold: 0,
	}
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Entry.ID
	}
	return out
}

func TestRun_InvalidParams(t *testing.T) {
	f := newFixture(t, 10, 8)
	q := f.vectors[0]

	_, err := Run(t.Context(), f.graph, f.store.Namespace(""), q, defaultParams(0))
	assert.ErrorIs(t, err, ErrInvalidParams)

	p := defaultParams(10)
	p.EF = 5
	_, err = Run(t.Context(), f.graph, f.store.Namespace(""), q, p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRun_EmptyGraph(t *testing.T) {
	g, err := hnsw.New(func(o *hnsw.Options) { o.Dimension = 4 })
	require.NoError(t, err)

	res, err := Run(t.Context(), g, records.New().Namespace(""), []float32{1, 0, 0, 0}, defaultParams(3))
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, StrategyEmpty, res.Strategy)
}

func TestRun_SelfQuery(t *testing.T) {
	f := newFixture(t, 300, 16)
	for i := 0; i < 300; i += 7 {
		res, err := Run(t.Context(), f.graph, f.store.Namespace(""), f.vectors[i], defaultParams(1))
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		assert.Equal(t, recordID(i), res.Hits[0].Entry.ID)
		assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-4)
		assert.Equal(t, StrategyGraph, res.Strategy)
	}
}

func TestRun_PostFilterAgreesWithBruteForce(t *testing.T) {
	f := newFixture(t, 500, 16)
	filter := metadata.MustCompile(map[string]any{
		"year": map[string]any{"$gte": 2010},
	})

	rng := testutil.NewRNG(3)
	queries := rng.UnitVectors(20, 16)
	k := 5

	var total float64
	for _, q := range queries {
		p := defaultParams(k)
		p.Filter = filter
		res, err := Run(t.Context(), f.graph, f.store.Namespace(""), q, p)
		require.NoError(t, err)
		assert.Equal(t, StrategyPostFilter, res.Strategy)
		require.Len(t, res.Hits, k)

		var matching [][]float32
		var matchingIdx []int
		for i, v := range f.vectors {
			if filter.Matches(f.docs[i]) {
				matching = append(matching, v)
				matchingIdx = append(matchingIdx, i)
			}
		}
		truth := testutil.ExactTopK(distance.Cosine, matching, q, k)
		for i := range truth {
			truth[i].Index = matchingIdx[truth[i].Index]
		}

		got := make([]int, len(res.Hits))
		for i, h := range res.Hits {
			assert.True(t, filter.Matches(h.Entry.Metadata))
			_, err := fmt.Sscanf(h.Entry.ID, "rec-%04d", &got[i])
			require.NoError(t, err)
		}
		total += testutil.Recall(got, truth)
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
}

func TestRun_PreFilterIsExact(t *testing.T) {
	f := newFixture(t, 400, 8)
	filter := metadata.MustCompile(map[string]any{
		"bucket": map[string]any{"$in": []any{3}},
		"year":   map[string]any{"$lt": 2015},
	})

	q := testutil.NewRNG(11).UnitVectors(1, 8)[0]
	p := defaultParams(4)
	p.Filter = filter
	p.PrefilterThreshold = 1000

	res, err := Run(t.Context(), f.graph, f.store.Namespace(""), q, p)
	require.NoError(t, err)
	assert.Equal(t, StrategyPreFilter, res.Strategy)

	var matching [][]float32
	var idx []int
	for i, v := range f.vectors {
		if filter.Matches(f.docs[i]) {
			matching = append(matching, v)
			idx = append(idx, i)
		}
	}
	truth := testutil.ExactTopK(distance.Cosine, matching, q, 4)
	want := make([]string, len(truth))
	for i, n := range truth {
		want[i] = recordID(idx[n.Index])
	}
	assert.Equal(t, want, ids(res.Hits))
}

func TestRun_FewerThanKIsNotAnError(t *testing.T) {
	f := newFixture(t, 200, 8)

	p := defaultParams(5)
	p.Filter = metadata.MustCompile(map[string]any{"year": map[string]any{"$gt": 3000}})
	p.MaxCandidates = 400
	res, err := Run(t.Context(), f.graph, f.store.Namespace(""), f.vectors[0], p)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Greater(t, res.Rounds, 1)

	p.Filter = metadata.MustCompile(map[string]any{"bucket": 42})
	p.PrefilterThreshold = 10
	res, err = Run(t.Context(), f.graph, f.store.Namespace(""), f.vectors[0], p)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, StrategyPreFilter, res.Strategy)
}

func TestRun_HugeKIsBounded(t *testing.T) {
	f := newFixture(t, 60, 8)

	tests := []struct {
		name     string
		filter   *metadata.Filter
		prefilt  int
		strategy Strategy
		want     int
	}{
		{"graph", nil, 0, StrategyGraph, 60},
		{"postfilter", metadata.MustCompile(map[string]any{"bucket": 3}), 0, StrategyPostFilter, 6},
		{"prefilter", metadata.MustCompile(map[string]any{"bucket": 3}), 100, StrategyPreFilter, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams(math.MaxInt / 2)
			p.Filter = tt.filter
			p.PrefilterThreshold = tt.prefilt
			p.MaxCandidates = math.MaxInt

			res, err := Run(t.Context(), f.graph, f.store.Namespace(""), f.vectors[0], p)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, res.Strategy)
			assert.Len(t, res.Hits, tt.want)
		})
	}
}

func TestSatMul(t *testing.T) {
	assert.Equal(t, 12, satMul(3, 4))
	assert.Equal(t, 0, satMul(0, 4))
	assert.Equal(t, 0, satMul(-1, 4))
	assert.Equal(t, math.MaxInt, satMul(math.MaxInt/2, 4))
	assert.Equal(t, math.MaxInt, satMul(math.MaxInt, 2))
}

func TestRun_SkipsDeletedAndUnbound(t *testing.T) {
	f := newFixture(t, 50, 8)
	nodes := f.store.Delete("", []string{recordID(0)})
	require.Len(t, nodes, 1)
	f.graph.Delete(nodes[0])

	// Linked but never bound.
	_, err := f.graph.Insert(context.Background(), f.vectors[1])
	require.NoError(t, err)

	res, err := Run(t.Context(), f.graph, f.store.Namespace(""), f.vectors[0], defaultParams(50))
	require.NoError(t, err)
	assert.Len(t, res.Hits, 49)
	assert.NotContains(t, ids(res.Hits), recordID(0))
}

func TestRun_TimeoutIsPartial(t *testing.T) {
	f := newFixture(t, 100, 8)
	ctx, cancel := context.WithTimeout(t.Context(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	res, err := Run(ctx, f.graph, f.store.Namespace(""), f.vectors[0], defaultParams(5))
	require.NoError(t, err)
	assert.True(t, res.Partial)
}

func TestRank_TiesByID(t *testing.T) {
	hits := []Hit{
		{Entry: records.Entry{ID: "c"}, Score: 0.5},
		{Entry: records.Entry{ID: "a"}, Score: 0.5},
		{Entry: records.Entry{ID: "b"}, Score: 0.9},
	}
	Rank(hits)
	assert.Equal(t, []string{"b", "a", "c"}, ids(hits))
}

func TestFilterCache(t *testing.T) {
	fc := NewFilterCache(2, metadata.Schema{"year": metadata.FieldTypeInt})

	f1, err := fc.Compile(map[string]any{"year": map[string]any{"$gte": 2020}})
	require.NoError(t, err)
	f2, err := fc.Compile(map[string]any{"year": map[string]any{"$gte": 2020}})
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Equal(t, 1, fc.Len())

	_, err = fc.Compile(map[string]any{"year": map[string]any{"$gte": "x"}})
	var pe *metadata.FilterParseError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, fc.Len())

	_, err = fc.Compile(map[string]any{"tag": "YWJj"})
	require.NoError(t, err)
	_, err = fc.Compile(map[string]any{"tag": []byte("abc")})
	assert.ErrorIs(t, err, metadata.ErrInvalidFilter)

	off := NewFilterCache(0, nil)
	_, err = off.Compile(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 0, off.Len())
}
