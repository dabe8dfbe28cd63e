package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineIdenticalVectors(t *testing.T) {
	v := make(Vector, 128)
	for i := range v {
		v[i] = float64(i+1) / 10
	}

	score, err := Cosine(v, v)
	require.NoError(t, err)
	require.InDelta(t, 1.0, score, 1e-9)
}

func TestCosineOrthogonalVectors(t *testing.T) {
	a := Vector{1, 0, 0, 0}
	b := Vector{0, 1, 0, 0}

	score, err := Cosine(a, b)
	require.NoError(t, err)
	require.InDelta(t, 0.0, score, 1e-9)
}

func TestCosineOppositeVectors(t *testing.T) {
	a := Vector{1, 2, 3}
	b := Vector{-1, -2, -3}

	score, err := Cosine(a, b)
	require.NoError(t, err)
	require.InDelta(t, -1.0, score, 1e-9)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine(Vector{1, 2}, Vector{1, 2, 3})
	require.Error(t, err)
}

func TestCosineZeroVector(t *testing.T) {
	_, err := Cosine(Vector{0, 0, 0}, Vector{1, 2, 3})
	require.Error(t, err)
}

func TestCosineEmptyVectors(t *testing.T) {
	_, err := Cosine(Vector{}, Vector{})
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	v := Normalize(Vector{3, 4})
	require.InDelta(t, 0.6, v[0], 1e-9)
	require.InDelta(t, 0.8, v[1], 1e-9)

	zero := Normalize(Vector{0, 0})
	require.Equal(t, Vector{0, 0}, zero)
}
