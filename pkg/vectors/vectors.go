// Package vectors provides small helpers for embedding vectors: L2
// normalization, cosine similarity, and incremental centroid updates.
package vectors

import (
	"math"
)

// NormalizeL2 takes a raw embedding vector and normalizes it to a length of 1.
// It modifies the slice in-place to save allocations on the ingestion path.
func NormalizeL2(vector []float32) {
	var sumSquares float64

	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	// Avoid division by zero (a valid embedding will never be all zeros)
	if sumSquares == 0 {
		return
	}

	magnitude := math.Sqrt(sumSquares)

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Mismatched or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// RunningMean folds a new member into a centroid that currently averages
// count members, returning the updated centroid as a new slice. The result is
// the arithmetic mean of all count+1 members, so merge order does not matter.
func RunningMean(centroid, member []float32, count int) []float32 {
	if count <= 0 || len(centroid) != len(member) {
		out := make([]float32, len(member))
		copy(out, member)
		return out
	}

	out := make([]float32, len(centroid))
	n := float64(count)

	for i := range centroid {
		out[i] = float32((float64(centroid[i])*n + float64(member[i])) / (n + 1))
	}

	return out
}

// WeightedMean combines two centroids that average countA and countB members
// respectively into the centroid of the union.
func WeightedMean(a []float32, countA int, b []float32, countB int) []float32 {
	if len(a) != len(b) || countA+countB <= 0 {
		out := make([]float32, len(a))
		copy(out, a)
		return out
	}

	total := float64(countA + countB)
	out := make([]float32, len(a))
	for i := range a {
		out[i] = float32((float64(a[i])*float64(countA) + float64(b[i])*float64(countB)) / total)
	}

	return out
}

// Mean returns the arithmetic mean of the given vectors. Returns nil for an
// empty input or mismatched dimensions.
func Mean(members [][]float32) []float32 {
	if len(members) == 0 {
		return nil
	}

	dim := len(members[0])
	acc := make([]float64, dim)

	for _, m := range members {
		if len(m) != dim {
			return nil
		}
		for i, v := range m {
			acc[i] += float64(v)
		}
	}

	out := make([]float32, dim)
	for i := range acc {
		out[i] = float32(acc[i] / float64(len(members)))
	}

	return out
}
