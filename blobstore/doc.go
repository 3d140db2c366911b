// Package blobstore provides the storage abstraction used for collection
// snapshots.
//
// Store is the interface for reading and writing named blobs. Writes are
// whole-object and atomic: a reader sees either the previous contents or the
// new contents, never a partial write. Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, useful for tests
//   - LocalStore: local filesystem with atomic rename
//   - s3.Store: Amazon S3 (and S3-compatible endpoints)
//   - minio.Store: MinIO
//   - badger.Store: embedded Badger key-value store
//
// # Custom Implementations
//
//	type Store interface {
//	    Get(ctx, name) ([]byte, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Get must return an error matching ErrNotFound for missing blobs and Delete
// must ignore them.
package blobstore
