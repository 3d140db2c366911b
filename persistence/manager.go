package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/annex/blobstore"
	"github.com/hupe1980/annex/codec"
	"github.com/hupe1980/annex/internal/resource"
)

const (
	// CurrentName is the pointer blob naming the latest snapshot of a collection.
	CurrentName = "CURRENT"

	snapshotPrefix = "snapshot-"
	snapshotSuffix = ".bin"
)

var (
	// ErrSnapshotNotFound is returned when a collection has no committed snapshot.
	ErrSnapshotNotFound = errors.New("persistence: snapshot not found")

	// ErrInvalidName is returned for collection names that cannot be used as
	// a storage prefix.
	ErrInvalidName = errors.New("persistence: invalid collection name")
)

// ManagerOptions configures the snapshot manager.
type ManagerOptions struct {
	// Codec is used for serializing snapshots. Defaults to codec.Default.
	Codec codec.Codec

	// Compression is applied to snapshot payloads.
	Compression Compression

	// Retain is how many snapshot files per collection are kept after a
	// successful commit, including the committed one. Defaults to 2.
	Retain int

	// Resources paces snapshot I/O. Nil means unlimited.
	Resources *resource.Controller
}

// SaveInfo describes a committed snapshot.
type SaveInfo struct {
	Key    string
	Header Header
}

// Manager saves and loads collection snapshots in a blob store.
// It is safe for concurrent use; concurrent saves of one collection race on
// the CURRENT pointer and the last commit wins unless the store rejects it.
type Manager struct {
	store blobstore.Store
	opts  ManagerOptions
	now   func() time.Time
}

// NewManager creates a snapshot manager over store.
func NewManager(store blobstore.Store, opts ManagerOptions) *Manager {
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Retain <= 0 {
		opts.Retain = 2
	}
	return &Manager{store: store, opts: opts, now: time.Now}
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Save writes snap as a new snapshot file and commits it.
func (m *Manager) Save(ctx context.Context, snap *Snapshot) (*SaveInfo, error) {
	name := snap.Config.Name
	if err := validateName(name); err != nil {
		return nil, err
	}

	if snap.CreatedAt == 0 {
		snap.CreatedAt = m.now().UnixNano()
	}

	var buf bytes.Buffer
	h, err := Encode(resource.NewRateLimitedWriter(ctx, &buf, m.opts.Resources), snap, EncodeOptions{
		Codec:       m.opts.Codec,
		Compression: m.opts.Compression,
	})
	if err != nil {
		return nil, err
	}

	file := fmt.Sprintf("%s%020d%s", snapshotPrefix, snap.CreatedAt, snapshotSuffix)
	key := path.Join(name, file)
	if err := m.store.Put(ctx, key, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("persistence: write %s: %w", key, err)
	}
	if err := m.store.Put(ctx, path.Join(name, CurrentName), []byte(file)); err != nil {
		_ = m.store.Delete(ctx, key)
		return nil, fmt.Errorf("persistence: commit %s: %w", key, err)
	}

	if err := m.prune(ctx, name, file); err != nil {
		return nil, err
	}
	return &SaveInfo{Key: key, Header: *h}, nil
}

// prune removes old snapshot files beyond the retention count. The
// committed file is never removed.
func (m *Manager) prune(ctx context.Context, name, committed string) error {
	files, err := m.snapshotFiles(ctx, name)
	if err != nil {
		return err
	}
	if len(files) <= m.opts.Retain {
		return nil
	}
	for _, f := range files[:len(files)-m.opts.Retain] {
		if f == committed {
			continue
		}
		if err := m.store.Delete(ctx, path.Join(name, f)); err != nil {
			return fmt.Errorf("persistence: prune %s: %w", f, err)
		}
	}
	return nil
}

// snapshotFiles returns the snapshot file names of a collection, oldest first.
func (m *Manager) snapshotFiles(ctx context.Context, name string) ([]string, error) {
	names, err := m.store.List(ctx, name+"/")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, n := range names {
		f := strings.TrimPrefix(n, name+"/")
		if strings.HasPrefix(f, snapshotPrefix) && strings.HasSuffix(f, snapshotSuffix) && !strings.Contains(f, "/") {
			files = append(files, f)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Load reads the committed snapshot of a collection.
func (m *Manager) Load(ctx context.Context, name string) (*Snapshot, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	current, err := m.store.Get(ctx, path.Join(name, CurrentName))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
		}
		return nil, err
	}

	file := strings.TrimSpace(string(current))
	if file == "" || strings.Contains(file, "/") {
		return nil, fmt.Errorf("%w: invalid CURRENT pointer %q", ErrCorrupt, file)
	}

	data, err := m.store.Get(ctx, path.Join(name, file))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: CURRENT names missing %s", ErrCorrupt, file)
		}
		return nil, err
	}

	snap, _, err := Decode(resource.NewRateLimitedReader(ctx, bytes.NewReader(data), m.opts.Resources))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path.Join(name, file), err)
	}
	return snap, nil
}

// List returns the names of collections with at least one snapshot file.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, n := range names {
		dir, file := path.Split(n)
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" || strings.Contains(dir, "/") {
			continue
		}
		if !strings.HasPrefix(file, snapshotPrefix) || !strings.HasSuffix(file, snapshotSuffix) {
			continue
		}
		out = append(out, dir)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Delete removes the pointer and every snapshot file of a collection.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, path.Join(name, CurrentName)); err != nil {
		return err
	}
	files, err := m.snapshotFiles(ctx, name)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := m.store.Delete(ctx, path.Join(name, f)); err != nil {
			return err
		}
	}
	return nil
}
