package main

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSessionId(t *testing.T) {
	sessionId := GenerateSessionId()
	require.Len(t, sessionId, 32)

	_, err := hex.DecodeString(sessionId)
	require.NoError(t, err)
}

func TestGenerateSessionIdIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateSessionId()
		require.False(t, seen[id], "duplicate session id %v", id)
		seen[id] = true
	}
}

func TestGenerateNonce(t *testing.T) {
	for _, size := range []int{8, 16, 32} {
		nonce, err := GenerateNonce(size)
		require.NoError(t, err)
		require.Len(t, nonce, size*2)

		decoded, err := hex.DecodeString(nonce)
		require.NoError(t, err)
		require.Len(t, decoded, size)
	}
}
