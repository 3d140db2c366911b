package testutil

import (
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/annex/distance"
)

// RNG wraps a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)
	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}
	return vectors
}

// UnitVectors generates L2-normalized vectors uniformly distributed on the
// hypersphere.
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		if !distance.NormalizeL2InPlace(vec) {
			vec[0] = 1
		}
		vectors[i] = vec
	}
	return vectors
}

// ClusteredVectors generates vectors scattered around numClusters random
// centroids with the given spread.
func (r *RNG) ClusteredVectors(num, dimensions, numClusters int, spread float32) [][]float32 {
	centroids := r.UniformVectors(numClusters, dimensions)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		c := centroids[r.rand.Intn(numClusters)]
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}
	return vectors
}

// Neighbor is a ground-truth hit.
type Neighbor struct {
	Index    int
	Distance float32
}

// ExactTopK returns the indices of the k vectors closest to query under m,
// computed by brute force. Ties are broken by ascending index.
func ExactTopK(m distance.Metric, vectors [][]float32, query []float32, k int) []Neighbor {
	fn, err := distance.Provider(m)
	if err != nil {
		panic(err)
	}

	prep := func(v []float32) []float32 {
		if m != distance.Cosine {
			return v
		}
		n, err := distance.NormalizeL2Copy(v)
		if err != nil {
			return v
		}
		return n
	}

	q := prep(query)
	all := make([]Neighbor, len(vectors))
	for i, v := range vectors {
		all[i] = Neighbor{Index: i, Distance: fn(q, prep(v))}
	}
	slices.SortFunc(all, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return a.Index - b.Index
		}
	})
	return all[:min(k, len(all))]
}

// Recall returns the fraction of truth found in got.
func Recall(got []int, truth []Neighbor) float64 {
	if len(truth) == 0 {
		return 1
	}
	seen := make(map[int]struct{}, len(got))
	for _, g := range got {
		seen[g] = struct{}{}
	}
	hits := 0
	for _, t := range truth {
		if _, ok := seen[t.Index]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}
