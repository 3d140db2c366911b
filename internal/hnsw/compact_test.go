package hnsw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact_ReclaimsAndKeepsRecall(t *testing.T) {
	rng := testutil.NewRNG(11)
	vectors := rng.UnitVectors(600, 16)
	g := newTestGraph(t, 16, distance.Cosine)
	ids := fill(t, g, vectors)

	var remaining [][]float32
	var remainingIDs []uint32
	for i, id := range ids {
		if i%2 == 0 {
			require.True(t, g.Delete(id))
			continue
		}
		remaining = append(remaining, vectors[i])
		remainingIDs = append(remainingIDs, id)
	}

	stats, err := g.Compact(context.Background(), CompactOptions{})
	require.NoError(t, err)
	assert.Equal(t, 300, stats.Reclaimed)
	assert.Equal(t, 0, stats.Retained)
	assert.Positive(t, stats.Relinked)
	assert.Equal(t, 0, g.Tombstones())
	assert.Equal(t, 300, g.Live())
	require.NoError(t, g.Validate())

	var total float64
	for _, q := range rng.UnitVectors(40, 16) {
		res, err := g.Search(context.Background(), q, 10, 128, nil)
		require.NoError(t, err)
		got := make([]int, 0, len(res.Matches))
		for _, m := range res.Matches {
			require.Equal(t, uint32(1), m.ID%2, "reclaimed node returned")
			for j, id := range remainingIDs {
				if id == m.ID {
					got = append(got, j)
				}
			}
		}
		total += testutil.Recall(got, testutil.ExactTopK(distance.Cosine, remaining, q, 10))
	}
	assert.GreaterOrEqual(t, total/40, 0.85)

	// New inserts keep working after reclaim.
	id, err := g.Insert(context.Background(), vectors[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(600), id)
	require.NoError(t, g.Validate())
}

func TestCompact_RetentionKeepsYoungTombstones(t *testing.T) {
	g := newTestGraph(t, 8, distance.Euclidean)
	ids := fill(t, g, testutil.NewRNG(12).UniformVectors(100, 8))

	base := time.Unix(1_700_000_000, 0)
	withClock(g, base)
	for _, id := range ids[:10] {
		g.Delete(id)
	}

	stats, err := g.Compact(context.Background(), CompactOptions{Retention: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Reclaimed)
	assert.Equal(t, 10, stats.Retained)
	assert.Equal(t, 10, g.Tombstones())

	withClock(g, base.Add(2*time.Hour))
	stats, err = g.Compact(context.Background(), CompactOptions{Retention: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Reclaimed)
	require.NoError(t, g.Validate())
}

func TestCompact_EntryPointReelected(t *testing.T) {
	g := newTestGraph(t, 4, distance.Euclidean)
	fill(t, g, testutil.NewRNG(13).UniformVectors(200, 4))

	entry := g.snap.Load().entry
	g.Delete(entry)

	_, err := g.Compact(context.Background(), CompactOptions{})
	require.NoError(t, err)
	s := g.snap.Load()
	assert.True(t, s.hasEntry)
	assert.NotEqual(t, entry, s.entry)
	require.NoError(t, g.Validate())

	res, err := g.Search(context.Background(), []float32{0.5, 0.5, 0.5, 0.5}, 5, 20, nil)
	require.NoError(t, err)
	assert.Len(t, res.Matches, 5)
}

func TestCompact_AllDeleted(t *testing.T) {
	g := newTestGraph(t, 4, distance.Euclidean)
	ids := fill(t, g, testutil.NewRNG(14).UniformVectors(20, 4))
	for _, id := range ids {
		g.Delete(id)
	}

	stats, err := g.Compact(context.Background(), CompactOptions{})
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Reclaimed)
	assert.Equal(t, 0, g.Len())

	res, err := g.Search(context.Background(), []float32{0, 0, 0, 0}, 1, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	_, err = g.Insert(context.Background(), []float32{1, 1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}

func TestCompact_Cancelled(t *testing.T) {
	g := newTestGraph(t, 4, distance.Euclidean)
	ids := fill(t, g, testutil.NewRNG(15).UniformVectors(50, 4))
	g.Delete(ids[1])

	_, err := g.Compact(canceledContext(), CompactOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, g.Tombstones())
	require.NoError(t, g.Validate())
}

func TestCompact_PaceError(t *testing.T) {
	g := newTestGraph(t, 4, distance.Euclidean)
	ids := fill(t, g, testutil.NewRNG(16).UniformVectors(10, 4))
	g.Delete(ids[0])

	boom := errors.New("boom")
	_, err := g.Compact(context.Background(), CompactOptions{Pace: func(context.Context) error { return boom }})
	assert.ErrorIs(t, err, boom)
}
