// Package distance provides the metrics supported by annex collections and
// the kernels used to compare vectors.
//
// Kernels are backed by github.com/viterin/vek, which dispatches to AVX2/FMA
// implementations on x86-64 and falls back to portable Go elsewhere.
//
// # Supported Metrics
//
//   - Cosine: cosine similarity on L2-normalized vectors
//   - Dot: inner product
//   - Euclidean: squared L2 on the hot path, true L2 in reported scores
//
// Distances are "lower is closer"; Score converts a distance into the
// "higher is better" value returned to callers.
package distance
