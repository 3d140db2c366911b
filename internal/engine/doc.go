// Package engine runs the asynchronous indexing pipeline.
//
// Writes are acknowledged once their records are stored. The graph work is
// queued per collection and executed on a WorkerPool shared by the whole
// engine. At most one drain task runs per collection at any time, so each
// graph has a single writer, while different collections index in parallel.
//
// Every accepted batch is tracked by a Token; Tokens.Progress reports how
// many of its records are indexed (linked into the graph or superseded by
// a later write) and how many failed to link.
package engine
