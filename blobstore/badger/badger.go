// Package badger provides a blobstore.Store backed by an embedded BadgerDB.
//
// It suits single-process deployments that want snapshots on local disk
// with crash-safe writes but without managing files directly.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/annex/blobstore"
)

// Options configures the BadgerDB store.
type Options struct {
	// Dir is the directory for BadgerDB data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB in memory-only mode (no disk persistence).
	// Useful for testing with a real badger engine.
	InMemory bool

	// Logger receives badger's warnings and errors. Nil discards them.
	Logger *slog.Logger
}

// Store is a blobstore.Store implementation backed by BadgerDB v4.
type Store struct {
	db *badger.DB
}

// NewStore opens a BadgerDB-backed Store.
func NewStore(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Options.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(slogLogger{l: opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get returns a blob.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, blobstore.ErrNotFound
	}
	return val, err
}

// Put writes a blob in a single transaction.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), data)
	})
}

// Delete removes a blob.
func (s *Store) Delete(_ context.Context, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// List returns the names with the given prefix. Badger iterates keys in
// byte order, so the result is sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	p := []byte(prefix)

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = p
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// slogLogger adapts badger's logger to slog, suppressing debug and info
// level messages.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Errorf(f string, v ...any) { s.log(slog.LevelError, f, v) }
func (s slogLogger) Warningf(f string, v ...any) {
	s.log(slog.LevelWarn, f, v)
}
func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}

func (s slogLogger) log(level slog.Level, f string, v []any) {
	if s.l == nil {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(f, v...))
	s.l.Log(context.Background(), level, msg, "component", "badger")
}
