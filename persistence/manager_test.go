package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/blobstore"
	"github.com/hupe1980/annex/internal/resource"
)

type failingStore struct {
	blobstore.Store
	failPut string
}

func (s failingStore) Put(ctx context.Context, name string, data []byte) error {
	if name == s.failPut {
		return errors.New("put failed")
	}
	return s.Store.Put(ctx, name, data)
}

func newTestManager(store blobstore.Store, opts ManagerOptions) *Manager {
	m := NewManager(store, opts)
	var tick int64
	m.now = func() time.Time {
		tick++
		return time.Unix(0, 1700000000000000000+tick)
	}
	return m
}

func TestManager_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	m := newTestManager(store, ManagerOptions{Compression: CompressionZSTD})

	snap := testSnapshot("movies", 50)
	snap.CreatedAt = 0

	info, err := m.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, "movies/snapshot-01700000000000000001.bin", info.Key)

	current, err := store.Get(ctx, "movies/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-01700000000000000001.bin", string(current))

	got, err := m.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, snap.Config, got.Config)
	assert.Equal(t, 50, got.Records())
}

func TestManager_LoadMissing(t *testing.T) {
	m := NewManager(blobstore.NewMemoryStore(), ManagerOptions{})

	_, err := m.Load(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestManager_LoadDanglingPointer(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "movies/CURRENT", []byte("snapshot-1.bin")))

	_, err := NewManager(store, ManagerOptions{}).Load(ctx, "movies")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_InvalidName(t *testing.T) {
	m := NewManager(blobstore.NewMemoryStore(), ManagerOptions{})
	ctx := context.Background()

	for _, name := range []string{"", "a/b", ".."} {
		_, err := m.Save(ctx, testSnapshot(name, 1))
		assert.ErrorIs(t, err, ErrInvalidName, name)
		_, err = m.Load(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestManager_RetainPrunesOldFiles(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	m := newTestManager(store, ManagerOptions{Retain: 2})

	var last *SaveInfo
	for i := range 5 {
		snap := testSnapshot("movies", i+1)
		snap.CreatedAt = 0
		info, err := m.Save(ctx, snap)
		require.NoError(t, err)
		last = info
	}

	files, err := m.snapshotFiles(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"snapshot-01700000000000000004.bin",
		"snapshot-01700000000000000005.bin",
	}, files)

	got, err := m.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Records())
	assert.Equal(t, "movies/snapshot-01700000000000000005.bin", last.Key)
}

func TestManager_FailedCommitKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()

	good := newTestManager(mem, ManagerOptions{})
	_, err := good.Save(ctx, testSnapshot("movies", 3))
	require.NoError(t, err)

	bad := newTestManager(failingStore{Store: mem, failPut: "movies/CURRENT"}, ManagerOptions{})
	snap := testSnapshot("movies", 9)
	snap.CreatedAt = 0
	_, err = bad.Save(ctx, snap)
	require.Error(t, err)

	got, err := good.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Records())

	files, err := good.snapshotFiles(ctx, "movies")
	require.NoError(t, err)
	assert.Len(t, files, 1, "uncommitted snapshot file must be removed")
}

func TestManager_ListDelete(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())
	m := newTestManager(store, ManagerOptions{Compression: CompressionLZ4})

	for _, name := range []string{"movies", "books", "movies-2"} {
		snap := testSnapshot(name, 2)
		snap.CreatedAt = 0
		_, err := m.Save(ctx, snap)
		require.NoError(t, err)
	}

	names, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"books", "movies", "movies-2"}, names)

	require.NoError(t, m.Delete(ctx, "movies"))

	names, err = m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"books", "movies-2"}, names)

	_, err = m.Load(ctx, "movies")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = m.Load(ctx, "movies-2")
	assert.NoError(t, err)
}

func TestManager_RateLimited(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{IOBytesPerSec: 1 << 30})
	m := newTestManager(blobstore.NewMemoryStore(), ManagerOptions{Resources: rc})

	_, err := m.Save(ctx, testSnapshot("movies", 20))
	require.NoError(t, err)

	got, err := m.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Records())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Save(canceled, testSnapshot("movies", 20))
	assert.Error(t, err)
}
