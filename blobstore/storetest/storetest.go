// Package storetest provides a conformance suite for blobstore.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/blobstore"
)

// Run exercises the Store contract against stores created by newStore.
// Every subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) blobstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		data := []byte("hello blob")
		require.NoError(t, s.Put(ctx, "a/b.bin", data))

		got, err := s.Get(ctx, "a/b.bin")
		require.NoError(t, err)
		assert.Equal(t, data, got)

		// Mutating either side must not leak into the store.
		data[0] = 'X'
		got[1] = 'Y'
		again, err := s.Get(ctx, "a/b.bin")
		require.NoError(t, err)
		assert.Equal(t, "hello blob", string(again))
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("one")))
		require.NoError(t, s.Put(ctx, "k", []byte("two")))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("Empty", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "empty", nil))

		got, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.True(t, errors.Is(err, blobstore.ErrNotFound), "got %v", err)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "gone", []byte("x")))
		require.NoError(t, s.Delete(ctx, "gone"))
		require.NoError(t, s.Delete(ctx, "gone"))

		_, err := s.Get(ctx, "gone")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		for _, name := range []string{"docs/b", "docs/a", "docs/sub/c", "other/d"} {
			require.NoError(t, s.Put(ctx, name, []byte(name)))
		}

		names, err := s.List(ctx, "docs/")
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/a", "docs/b", "docs/sub/c"}, names)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := s.List(ctx, "nothing/")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Concurrent", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				name := fmt.Sprintf("c/%d", i)
				assert.NoError(t, s.Put(ctx, name, []byte(name)))
				got, err := s.Get(ctx, name)
				assert.NoError(t, err)
				assert.Equal(t, name, string(got))
			}()
		}
		wg.Wait()

		names, err := s.List(ctx, "c/")
		require.NoError(t, err)
		assert.Len(t, names, 8)
	})
}
