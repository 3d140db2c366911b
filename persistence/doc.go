// Package persistence implements collection snapshots.
//
// A snapshot is a self-contained copy of one collection: its configuration,
// every namespace's records and the exported proximity graphs. Snapshots are
// encoded as
//
//	magic "ANXS" | version u16 | compression u8 | codec name len u8 | codec name
//	| raw length u64 | payload length u64 | CRC32C(payload) u32 | payload
//
// where payload is the codec-encoded Snapshot, block-compressed with lz4 or
// zstd. All integers are little-endian.
//
// The Manager stores snapshots in a blobstore.Store under
// "<collection>/snapshot-<unixnano>.bin" and commits them by writing the
// file name to "<collection>/CURRENT".
package persistence
