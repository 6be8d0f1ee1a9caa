package embed

import "math"

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorMagnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// cosineSimilarity is zero for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	na, nb := vectorMagnitude(a), vectorMagnitude(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}
