// Package embedding turns a captured face image into a fixed-length numeric
// vector and scores vectors against each other. The face-region extractor and
// the embedding model are external collaborators consumed behind interfaces.
package embedding

import (
	"fmt"
	"math"
)

// Vector is a fixed-length face embedding. Immutable after creation.
type Vector []float64

// Cosine computes the cosine similarity between two vectors. The result is
// in [-1, 1], with same-person embeddings clustering near 1.
func Cosine(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty embedding")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-norm embedding")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Normalize returns a copy of v scaled to unit length. A zero vector is
// returned unchanged.
func Normalize(v Vector) Vector {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make(Vector, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
