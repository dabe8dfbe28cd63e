package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryChallengeRoundTrip(t *testing.T) {
	storage := NewInMemoryBiometricStorage()

	require.NoError(t, storage.StoreChallenge("challenge-1", "session-1"))

	sessionId, err := storage.RetrieveChallenge("challenge-1")
	require.NoError(t, err)
	require.Equal(t, "session-1", sessionId)
}

func TestInMemoryChallengeConsumeOnce(t *testing.T) {
	storage := NewInMemoryBiometricStorage()

	require.NoError(t, storage.StoreChallenge("challenge-1", "session-1"))
	require.NoError(t, storage.RemoveChallenge("challenge-1"))

	_, err := storage.RetrieveChallenge("challenge-1")
	require.Error(t, err)
	require.Error(t, storage.RemoveChallenge("challenge-1"))
}

func TestInMemoryChallengeUnknown(t *testing.T) {
	storage := NewInMemoryBiometricStorage()

	_, err := storage.RetrieveChallenge("never-issued")
	require.Error(t, err)
}

func TestInMemoryChallengeOverwrite(t *testing.T) {
	storage := NewInMemoryBiometricStorage()

	require.NoError(t, storage.StoreChallenge("challenge-1", "session-1"))
	require.NoError(t, storage.StoreChallenge("challenge-1", "session-2"))

	sessionId, err := storage.RetrieveChallenge("challenge-1")
	require.NoError(t, err)
	require.Equal(t, "session-2", sessionId)
}

func TestInMemoryEnrollmentRoundTrip(t *testing.T) {
	storage := NewInMemoryBiometricStorage()
	enrollment := StoredEnrollment{
		Embedding: []float64{1, 0, 0},
		PublicKey: "pub-b64",
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, storage.StoreEnrollment("fp-1", enrollment))

	stored, err := storage.RetrieveEnrollment("fp-1")
	require.NoError(t, err)
	require.Equal(t, enrollment.PublicKey, stored.PublicKey)
	require.Equal(t, enrollment.Embedding, stored.Embedding)
}

func TestInMemoryEnrollmentRemove(t *testing.T) {
	storage := NewInMemoryBiometricStorage()

	require.NoError(t, storage.StoreEnrollment("fp-1", StoredEnrollment{Embedding: []float64{1}}))
	require.NoError(t, storage.RemoveEnrollment("fp-1"))

	_, err := storage.RetrieveEnrollment("fp-1")
	require.Error(t, err)
	require.Error(t, storage.RemoveEnrollment("fp-1"))
}

func TestInMemoryAllEnrollments(t *testing.T) {
	storage := NewInMemoryBiometricStorage()

	require.NoError(t, storage.StoreEnrollment("fp-1", StoredEnrollment{Embedding: []float64{1, 0}}))
	require.NoError(t, storage.StoreEnrollment("fp-2", StoredEnrollment{Embedding: []float64{0, 1}}))

	all, err := storage.AllEnrollments()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "fp-1")
	require.Contains(t, all, "fp-2")

	// The returned map is a copy; mutating it must not touch the storage.
	delete(all, "fp-1")
	_, err = storage.RetrieveEnrollment("fp-1")
	require.NoError(t, err)
}
