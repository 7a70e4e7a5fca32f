package facematch

import "math"

// EuclideanDistance computes the L2 distance between two vectors.
// Vectors of different length are a caller bug; the shorter length is used.
func EuclideanDistance(a, b []float32) float64 {
	n := min(len(a), len(b))

	var sum float64
	for i := range n {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
