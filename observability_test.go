package annex_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex"
	"github.com/hupe1980/annex/distance"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func findEntry(entries []map[string]any, msg string) map[string]any {
	for _, e := range entries {
		if e["msg"] == msg {
			return e
		}
	}
	return nil
}

func TestLogger_StructuredFields(t *testing.T) {
	ctx := context.Background()
	buf := &syncBuffer{}
	logger := annex.NewLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	eng := newTestEngine(t, annex.WithLogger(logger))

	c, err := eng.CreateCollection(ctx, "movies", 2, distance.Euclidean)
	require.NoError(t, err)

	_, err = c.Upsert(ctx, "tenant", []annex.Record{
		{ID: "a", Vector: []float32{1, 2}},
		{ID: "", Vector: []float32{1, 2}},
	})
	require.NoError(t, err)
	waitIndexed(t, c)

	_, err = c.Query(ctx, "tenant", []float32{1, 2}, 1)
	require.NoError(t, err)
	_, err = c.Query(ctx, "tenant", []float32{1, 2}, 0)
	require.Error(t, err)

	entries := buf.entries(t)

	created := findEntry(entries, "collection created")
	require.NotNil(t, created)
	assert.Equal(t, "movies", created["collection"])
	assert.Equal(t, "euclidean", created["metric"])

	upsert := findEntry(entries, "upsert completed with rejected records")
	require.NotNil(t, upsert)
	assert.Equal(t, "WARN", upsert["level"])
	assert.Equal(t, "tenant", upsert["namespace"])
	assert.InDelta(t, 1, upsert["failed"], 0)

	query := findEntry(entries, "query completed")
	require.NotNil(t, query)
	assert.Equal(t, "graph", query["strategy"])
	assert.InDelta(t, 1, query["results"], 0)

	failed := findEntry(entries, "query failed")
	require.NotNil(t, failed)
	assert.Equal(t, "ERROR", failed["level"])

	assert.NotNil(t, findEntry(entries, "index batch linked"))
}

func TestNoopLogger(t *testing.T) {
	logger := annex.NoopLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))

	ctx := context.Background()
	eng := newTestEngine(t, annex.WithLogger(nil))
	_, err := eng.CreateCollection(ctx, "movies", 2, distance.Euclidean)
	require.NoError(t, err)
}

func TestBasicMetricsCollector(t *testing.T) {
	ctx := context.Background()
	mc := &annex.BasicMetricsCollector{}
	eng := newTestEngine(t, annex.WithMetricsCollector(mc))

	c, err := eng.CreateCollection(ctx, "movies", 2, distance.Euclidean, annex.WithTombstoneRetention(0))
	require.NoError(t, err)

	_, err = c.Upsert(ctx, "", []annex.Record{
		{ID: "a", Vector: []float32{1, 2}},
		{ID: "b", Vector: []float32{2, 1}},
		{ID: "c", Vector: []float32{1}},
	})
	require.NoError(t, err)
	waitIndexed(t, c)

	for range 3 {
		_, err = c.Query(ctx, "", []float32{1, 1}, 2)
		require.NoError(t, err)
	}
	_, err = c.Query(ctx, "", []float32{1, 1}, 0)
	require.Error(t, err)

	require.NoError(t, c.Delete(ctx, "", []string{"a"}))
	_, err = c.Compact(ctx)
	require.NoError(t, err)

	st := mc.GetStats()
	assert.Equal(t, int64(1), st.UpsertCount)
	assert.Equal(t, int64(3), st.UpsertRecords)
	assert.Equal(t, int64(1), st.UpsertRejected)
	assert.Equal(t, int64(4), st.QueryCount)
	assert.Equal(t, int64(1), st.QueryErrors)
	assert.Equal(t, int64(1), st.DeleteCount)
	assert.Equal(t, int64(2), st.IndexedRecords)
	assert.Equal(t, int64(1), st.CompactionCount)
	assert.Equal(t, int64(1), st.Reclaimed)
	assert.GreaterOrEqual(t, st.QueryAvgNanos, int64(0))
}
