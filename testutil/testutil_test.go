package testutil

import (
	"testing"

	"github.com/hupe1980/annex/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(42).UniformVectors(3, 4)
	b := NewRNG(42).UniformVectors(3, 4)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(42), NewRNG(42).Seed())
}

func TestUnitVectors(t *testing.T) {
	for _, v := range NewRNG(1).UnitVectors(10, 8) {
		assert.InDelta(t, 1.0, distance.Norm(v), 1e-5)
	}
}

func TestExactTopKAndRecall(t *testing.T) {
	vectors := [][]float32{{0, 0}, {1, 0}, {5, 5}, {0.5, 0}}
	top := ExactTopK(distance.Euclidean, vectors, []float32{0, 0}, 2)
	require.Len(t, top, 2)
	assert.Equal(t, 0, top[0].Index)
	assert.Equal(t, 3, top[1].Index)

	assert.Equal(t, 0.5, Recall([]int{0, 2}, top))
	assert.Equal(t, 1.0, Recall(nil, nil))
}
