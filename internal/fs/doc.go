// Package fs abstracts the few filesystem operations the local blob store
// performs so tests can inject I/O faults.
//
//   - [LocalFS]: production implementation on top of the os package
//   - [FaultyFS]: wrapper that fails writes, syncs or renames on demand
package fs
