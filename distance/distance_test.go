package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Single", []float32{2}, []float32{3}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DotProduct(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"Mixed", []float32{1, -1}, []float32{-1, 1}, 8},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2Large(t *testing.T) {
	a := make([]float32, 2048)
	b := make([]float32, 2048)
	for i := range a {
		a[i] = 1
	}
	assert.InDelta(t, 2048, SquaredL2(a, b), 1e-3)
}

func TestNormalize(t *testing.T) {
	v, err := NormalizeL2Copy([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	_, err = NormalizeL2Copy([]float32{0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestProviderAndScore(t *testing.T) {
	a, _ := NormalizeL2Copy([]float32{1, 0})
	b, _ := NormalizeL2Copy([]float32{1, 1})

	t.Run("Cosine", func(t *testing.T) {
		fn, err := Provider(Cosine)
		require.NoError(t, err)
		d := fn(a, b)
		assert.InDelta(t, 1-1/math.Sqrt2, d, 1e-5)
		assert.InDelta(t, 1/math.Sqrt2, Score(Cosine, d), 1e-5)
	})

	t.Run("Dot", func(t *testing.T) {
		fn, err := Provider(Dot)
		require.NoError(t, err)
		d := fn([]float32{1, 2}, []float32{3, 4})
		assert.InDelta(t, -11, d, 1e-5)
		assert.InDelta(t, 11, Score(Dot, d), 1e-5)
	})

	t.Run("Euclidean", func(t *testing.T) {
		fn, err := Provider(Euclidean)
		require.NoError(t, err)
		d := fn([]float32{0, 0}, []float32{3, 4})
		assert.InDelta(t, 25, d, 1e-5)
		assert.InDelta(t, -5, Score(Euclidean, d), 1e-5)
	})

	_, err := Provider(Metric(42))
	assert.Error(t, err)
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{
		"cosine": Cosine, "COS": Cosine, "dot": Dot, "dotproduct": Dot, "euclidean": Euclidean, "l2": Euclidean,
	} {
		m, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, m)
	}
	_, err := ParseMetric("manhattan")
	assert.Error(t, err)
	assert.Equal(t, "euclidean", Euclidean.String())
	assert.False(t, Metric(7).Valid())
}

func TestCapabilities(t *testing.T) {
	assert.NotEmpty(t, Capabilities())
}
