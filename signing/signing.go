// Package signing binds enrollments to a device key. The Signer interface
// models a hardware-backed key; SoftwareSigner is the file-backed fallback
// used where no secure element is available. Signatures are ECDSA P-256
// over SHA-256, encoded as base64 ASN.1 DER; public keys travel as base64
// PKIX DER.
package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Signer produces device signatures. SignChallenge covers the common case
// of signing a server-issued nonce.
type Signer interface {
	SignBytes(data []byte) (string, error)
	SignChallenge(challenge string) (string, error)
	PublicKey() (string, error)
}

// HardwareUnavailableError means the signing backend cannot be reached at
// all, as opposed to a failed signing attempt.
type HardwareUnavailableError struct {
	Detail string
}

func (e *HardwareUnavailableError) Error() string {
	return fmt.Sprintf("signing hardware unavailable: %s", e.Detail)
}

// UserCanceledError means the user dismissed the authorization prompt
// guarding the key. Callers treat this as a clean abort, not a failure.
type UserCanceledError struct{}

func (e *UserCanceledError) Error() string {
	return "signing canceled by user"
}

const keyPEMType = "EC PRIVATE KEY"

// SoftwareSigner holds a P-256 key in a local PEM file.
type SoftwareSigner struct {
	key *ecdsa.PrivateKey
}

// NewSoftwareSigner loads the key at keyPath, generating and persisting a
// fresh one when the file does not exist yet.
func NewSoftwareSigner(keyPath string) (*SoftwareSigner, error) {
	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		key, err := parseKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key file %s: %w", keyPath, err)
		}
		return &SoftwareSigner{key: key}, nil
	case errors.Is(err, os.ErrNotExist):
		return generateSigner(keyPath)
	default:
		return nil, fmt.Errorf("reading key file %s: %w", keyPath, err)
	}
}

func generateSigner(keyPath string) (*SoftwareSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding device key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: keyPEMType, Bytes: der})
	if err := os.WriteFile(keyPath, block, 0o600); err != nil {
		return nil, fmt.Errorf("persisting device key: %w", err)
	}

	return &SoftwareSigner{key: key}, nil
}

func parseKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != keyPEMType {
		return nil, errors.New("not an EC private key PEM")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func (s *SoftwareSigner) SignBytes(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *SoftwareSigner) SignChallenge(challenge string) (string, error) {
	return s.SignBytes([]byte(challenge))
}

// PublicKey returns the key's PKIX DER encoding in base64, the format the
// enrollment wire contract carries.
func (s *SoftwareSigner) PublicKey() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// VerifySignature checks a base64 ASN.1 DER signature over message against
// a base64 PKIX public key. A nil return means the signature is valid.
func VerifySignature(publicKeyB64, message, signatureB64 string) error {
	pub, err := parsePublicKey(publicKeyB64)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}

	digest := sha256.Sum256([]byte(message))
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return errors.New("signature does not verify")
	}
	return nil
}

// Fingerprint returns the hex SHA-256 of the DER public key, used as the
// stable identity of a device key.
func Fingerprint(publicKeyB64 string) (string, error) {
	der, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("decoding public key: %w", err)
	}
	digest := sha256.Sum256(der)
	return hex.EncodeToString(digest[:]), nil
}

func parsePublicKey(publicKeyB64 string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", pub)
	}
	return ecPub, nil
}
