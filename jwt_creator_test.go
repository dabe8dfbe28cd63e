package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func writeTestRsaKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path := filepath.Join(t.TempDir(), "jwt_key.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0600))
	return path, key
}

func TestCreateAttestationJwt(t *testing.T) {
	keyPath, key := writeTestRsaKey(t)

	creator, err := NewJwtCreator(keyPath, "face-enroll-test")
	require.NoError(t, err)

	token, err := creator.CreateAttestationJwt("fp-abc123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	require.Equal(t, "face-enroll-test", claims.Issuer)
	require.Equal(t, "fp-abc123", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(attestationValidity), claims.ExpiresAt.Time, 10*time.Second)
}

func TestNewJwtCreatorMissingKeyFile(t *testing.T) {
	_, err := NewJwtCreator(filepath.Join(t.TempDir(), "absent.pem"), "issuer")
	require.Error(t, err)
}

func TestNewJwtCreatorGarbageKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0600))

	_, err := NewJwtCreator(path, "issuer")
	require.Error(t, err)
}
