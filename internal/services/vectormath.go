package services

import "math"

// cosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either vector is empty, zero-length in norm, or the dims differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// truncateVector returns the first dim components, or the vector itself when
// it is already short enough.
func truncateVector(vec []float32, dim int) []float32 {
	if len(vec) <= dim {
		return vec
	}
	return vec[:dim]
}
