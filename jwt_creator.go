package main

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// JwtCreator mints the attestation token handed out after a successful
// challenge verification.
type JwtCreator interface {
	CreateAttestationJwt(fingerprint string) (string, error)
}

const attestationValidity = 15 * time.Minute

type DefaultJwtCreator struct {
	privateKey *rsa.PrivateKey
	issuerId   string
}

func NewJwtCreator(privateKeyPath string, issuerId string) (*DefaultJwtCreator, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read jwt private key: %w", err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwt private key: %w", err)
	}

	return &DefaultJwtCreator{
		privateKey: privateKey,
		issuerId:   issuerId,
	}, nil
}

// CreateAttestationJwt signs a short-lived RS256 token whose subject is
// the verified device key fingerprint.
func (jc *DefaultJwtCreator) CreateAttestationJwt(fingerprint string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    jc.issuerId,
		Subject:   fingerprint,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(attestationValidity)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(jc.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign attestation jwt: %w", err)
	}
	return signed, nil
}
