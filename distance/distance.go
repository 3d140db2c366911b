package distance

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/viterin/vek/vek32"
	"golang.org/x/sys/cpu"
)

// ErrZeroVector is returned when a zero vector is normalized.
var ErrZeroVector = errors.New("zero vector cannot be normalized")

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	Cosine Metric = iota
	Dot
	Euclidean
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Dot:
		return "dot"
	case Euclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m >= Cosine && m <= Euclidean
}

// ParseMetric parses a metric name. Accepted aliases: "cos", "dotproduct",
// "inner", "l2".
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "cos":
		return Cosine, nil
	case "dot", "dotproduct", "inner":
		return Dot, nil
	case "euclidean", "l2":
		return Euclidean, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// Func computes a distance where lower is closer.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
//
// Cosine assumes both inputs are already L2-normalized.
func Provider(m Metric) (Func, error) {
	switch m {
	case Cosine:
		return CosineDistance, nil
	case Dot:
		return NegativeDot, nil
	case Euclidean:
		return SquaredL2, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Score converts a distance produced by Provider(m) into a similarity where
// higher is better.
func Score(m Metric, dist float32) float32 {
	switch m {
	case Cosine:
		return 1 - dist
	case Dot:
		return -dist
	case Euclidean:
		if dist <= 0 {
			return 0
		}
		return -float32(math.Sqrt(float64(dist)))
	default:
		return -dist
	}
}

// DotProduct calculates the inner product of two vectors of equal length.
func DotProduct(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

// NegativeDot is the dot-product distance.
func NegativeDot(a, b []float32) float32 {
	return -DotProduct(a, b)
}

// CosineDistance is 1 - dot(a, b) for normalized inputs.
func CosineDistance(a, b []float32) float32 {
	return 1 - DotProduct(a, b)
}

var scratchPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0, 1536)
		return &s
	},
}

// SquaredL2 calculates the squared Euclidean distance between two vectors of
// equal length.
func SquaredL2(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	sp := scratchPool.Get().(*[]float32)
	buf := slices.Grow((*sp)[:0], len(a))[:len(a)]
	vek32.Sub_Into(buf, a, b)
	d := vek32.Dot(buf, buf)
	*sp = buf
	scratchPool.Put(sp)
	return d
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return vek32.Norm(v)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	n := Norm(v)
	if n == 0 || math.IsNaN(float64(n)) {
		return false
	}
	vek32.MulNumber_Inplace(v, 1/n)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
func NormalizeL2Copy(src []float32) ([]float32, error) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, ErrZeroVector
	}
	return dst, nil
}

// Capabilities describes the SIMD features available to the kernels.
func Capabilities() string {
	var feats []string
	if cpu.X86.HasAVX2 {
		feats = append(feats, "avx2")
	}
	if cpu.X86.HasFMA {
		feats = append(feats, "fma")
	}
	if cpu.X86.HasAVX512F {
		feats = append(feats, "avx512f")
	}
	if cpu.ARM64.HasASIMD {
		feats = append(feats, "neon")
	}
	if len(feats) == 0 {
		return "generic"
	}
	return strings.Join(feats, "+")
}
