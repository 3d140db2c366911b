package records

import (
	"testing"

	"github.com/hupe1980/annex/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutBindResolve(t *testing.T) {
	s := New()

	e, _, replaced := s.Put("ns", "a", []float32{1, 2}, metadata.Document{"genre": metadata.String("comedy")})
	assert.False(t, replaced)
	assert.Equal(t, Counts{Vectors: 1, Pending: 1}, s.Counts("ns"))

	require.True(t, s.Bind("ns", "a", e.Version, 7))
	assert.Equal(t, Counts{Vectors: 1, Pending: 0}, s.Counts("ns"))

	got, ok := s.Resolve("ns", 7)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	assert.True(t, got.Indexed)

	bm, ok := s.Candidates("ns", metadata.Eq("genre", metadata.String("comedy")))
	require.True(t, ok)
	assert.Equal(t, []uint32{7}, bm.ToArray())

	assert.False(t, s.Bind("ns", "a", e.Version, 8), "already bound")
}

func TestStore_ReplaceReturnsOldNode(t *testing.T) {
	s := New()
	e1, _, _ := s.Put("", "a", []float32{1}, nil)
	require.True(t, s.Bind("", "a", e1.Version, 1))

	e2, node, replaced := s.Put("", "a", []float32{2}, nil)
	assert.True(t, replaced)
	assert.Equal(t, uint32(1), node)
	assert.Greater(t, e2.Version, e1.Version)
	assert.Equal(t, Counts{Vectors: 1, Pending: 1}, s.Counts(""))

	_, ok := s.Resolve("", 1)
	assert.False(t, ok)

	got, ok := s.Get("", "a")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, got.Vector)
}

func TestStore_StaleBind(t *testing.T) {
	s := New()
	e1, _, _ := s.Put("", "a", []float32{1}, nil)
	s.Put("", "a", []float32{2}, nil)

	assert.False(t, s.Bind("", "a", e1.Version, 0))
	assert.Equal(t, Counts{Vectors: 1, Pending: 1}, s.Counts(""))

	s.Delete("", []string{"a"})
	assert.False(t, s.Bind("", "a", e1.Version+1, 0))
	assert.Equal(t, Counts{}, s.Counts(""))
}

func TestStore_Fail(t *testing.T) {
	s := New()
	e, _, _ := s.Put("", "a", []float32{1}, nil)

	assert.False(t, s.Fail("", "a", e.Version+1), "stale version")
	require.True(t, s.Fail("", "a", e.Version))
	assert.False(t, s.Fail("", "a", e.Version), "already failed")
	assert.Equal(t, Counts{Vectors: 1, Failed: 1}, s.Counts(""))

	got, ok := s.Get("", "a")
	require.True(t, ok)
	assert.True(t, got.Failed)
	assert.False(t, got.Indexed)

	// A later write replaces the failed record and is pending again.
	e2, _, replaced := s.Put("", "a", []float32{2}, nil)
	assert.False(t, replaced)
	assert.Equal(t, Counts{Vectors: 1, Pending: 1}, s.Counts(""))

	require.True(t, s.Fail("", "a", e2.Version))
	assert.Empty(t, s.Delete("", []string{"a"}))
	assert.Equal(t, Counts{}, s.Counts(""))
}

func TestStore_Delete(t *testing.T) {
	s := New()
	e, _, _ := s.Put("ns", "a", []float32{1}, nil)
	s.Put("ns", "b", []float32{1}, nil)
	require.True(t, s.Bind("ns", "a", e.Version, 3))

	nodes := s.Delete("ns", []string{"a", "b", "missing"})
	assert.Equal(t, []uint32{3}, nodes)
	assert.Equal(t, Counts{}, s.Counts("ns"))
	assert.Nil(t, s.Delete("other", []string{"a"}))
}

func TestStore_NamespaceIsolation(t *testing.T) {
	s := New()
	s.Put("x", "a", []float32{1}, nil)
	s.Put("y", "b", []float32{1}, nil)

	_, ok := s.Get("x", "b")
	assert.False(t, ok)
	assert.Equal(t, []string{"x", "y"}, s.Namespaces())

	assert.True(t, s.DropNamespace("x"))
	assert.False(t, s.DropNamespace("x"))
	assert.Equal(t, []string{"y"}, s.Namespaces())

	bm, ok := s.Candidates("x", metadata.Eq("k", metadata.Int(1)))
	require.True(t, ok)
	assert.True(t, bm.IsEmpty())
}

func TestStore_EntriesAndRestore(t *testing.T) {
	s := New()
	e, _, _ := s.Put("", "b", []float32{1}, nil)
	s.Bind("", "b", e.Version, 0)
	s.Put("", "a", []float32{2}, metadata.Document{"k": metadata.Int(1)})

	var all []Entry
	for e := range s.Entries("") {
		all = append(all, e)
	}
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	restored := New()
	for _, e := range all {
		restored.Restore("", e)
	}
	assert.Equal(t, s.Counts(""), restored.Counts(""))
	got, ok := restored.Resolve("", 0)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	next, _, _ := restored.Put("", "c", nil, nil)
	assert.Greater(t, next.Version, all[0].Version)
	assert.Greater(t, next.Version, all[1].Version)
}
