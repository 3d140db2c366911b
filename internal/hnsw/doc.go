// Package hnsw implements Hierarchical Navigable Small World graphs.
//
// HNSW provides approximate nearest neighbor search with high recall and
// sub-linear query time.
//
// # Concurrency
//
// A Graph has a single writer at a time (Insert, Import and Compact
// serialize on an internal mutex) and any number of concurrent readers.
// Readers never take a lock: the node table is published as an immutable
// snapshot through an atomic pointer and every neighbor list is replaced
// copy-on-write. A node becomes reachable only after its own neighbor lists
// are complete. Delete flips a per-node atomic tombstone flag.
//
// # Parameters
//
//   - M: Max connections per node on upper layers (default: 16)
//   - M0: Max connections on layer 0 (2*M)
//   - EFConstruction: Construction beam width (default: 200)
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
