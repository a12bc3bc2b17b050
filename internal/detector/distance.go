package detector

import (
	"math"

	"github.com/coder/hnsw"
)

// Distance returns the Euclidean distance between two descriptors.
// Descriptors of different or zero length are infinitely far apart.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	return float64(hnsw.EuclideanDistance(a, b))
}

// IsMatch reports whether d is strictly below threshold.
func IsMatch(d, threshold float64) bool {
	return d < threshold
}
