package export

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"go-face-enroll/embedding"
	"go-face-enroll/logging"
	"go-face-enroll/models"
	"go-face-enroll/signing"
)

// VectorSource produces an embedding for an image on disk. Satisfied by
// embedding.Extractor.
type VectorSource interface {
	Extract(ctx context.Context, imagePath string) (embedding.Vector, error)
}

// Service builds transmittable enrollment records and runs the server
// flows. The signer may be nil for embedding-only enrollment.
type Service struct {
	client  Client
	vectors VectorSource
	signer  signing.Signer
	log     *slog.Logger
}

func NewService(client Client, vectors VectorSource, signer signing.Signer) *Service {
	return &Service{
		client:  client,
		vectors: vectors,
		signer:  signer,
		log:     logging.For("export"),
	}
}

// Enroll extracts an embedding from the capture, opens an enrollment
// session and registers the result. The returned request doubles as the
// record the caller persists locally.
func (s *Service) Enroll(ctx context.Context, imagePath string) (*models.RegistrationRequest, *Result, error) {
	start, err := s.client.StartEnrollment(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("starting enrollment session: %w", err)
	}

	req, err := s.buildRegistration(ctx, imagePath, start.Challenge)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.client.Register(ctx, *req, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("registering enrollment: %w", err)
	}
	s.log.Info("enrollment registered", "status", result.Status.String(), "code", result.Code)
	return req, result, nil
}

// RecoverKey re-proves the enrolled face to bind a new device key after
// the old one was lost. The server decides based on embedding similarity.
func (s *Service) RecoverKey(ctx context.Context, imagePath string) (*models.RegistrationRequest, *Result, error) {
	start, err := s.client.StartEnrollment(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("starting recovery session: %w", err)
	}

	req, err := s.buildRegistration(ctx, imagePath, start.Challenge)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.client.Recover(ctx, *req, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("recovering enrollment: %w", err)
	}
	s.log.Info("recovery attempted", "status", result.Status.String(), "code", result.Code)
	return req, result, nil
}

// ProveChallenge signs a server-issued challenge and submits it. Unlike
// enrollment this carries no biometric data at all.
func (s *Service) ProveChallenge(ctx context.Context, challenge string) (*Result, error) {
	if s.signer == nil {
		return nil, errors.New("challenge proof requires a signer")
	}

	sig, err := s.signer.SignChallenge(challenge)
	if err != nil {
		return nil, fmt.Errorf("signing challenge: %w", err)
	}
	pub, err := s.signer.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	req := models.ChallengeVerificationRequest{
		BiometricSignature: sig,
		BiometricPublicKey: pub,
		SignedPayload:      challenge,
		DeviceSignature:    payloadDigest(challenge),
	}
	result, err := s.client.VerifyChallenge(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("verifying challenge: %w", err)
	}
	s.log.Info("challenge verified", "status", result.Status.String(), "code", result.Code)
	return result, nil
}

// buildRegistration assembles the wire record: embedding plus, when a
// signer is available, a signature over the session challenge.
func (s *Service) buildRegistration(ctx context.Context, imagePath, challenge string) (*models.RegistrationRequest, error) {
	vec, err := s.vectors.Extract(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("extracting embedding: %w", err)
	}

	req := &models.RegistrationRequest{Embedding: vec}
	if s.signer == nil {
		return req, nil
	}

	sig, err := s.signer.SignChallenge(challenge)
	if err != nil {
		var unavailable *signing.HardwareUnavailableError
		if errors.As(err, &unavailable) {
			// Enrollment proceeds without key binding; verification will
			// simply have no key to compare.
			s.log.Warn("signing hardware unavailable, enrolling without key", "error", err)
			return req, nil
		}
		return nil, fmt.Errorf("signing enrollment challenge: %w", err)
	}
	pub, err := s.signer.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	req.BiometricSignature = sig
	req.BiometricPublicKey = pub
	req.SignedPayload = base64.StdEncoding.EncodeToString([]byte(challenge))
	req.DeviceSignature = payloadDigest(req.SignedPayload)
	return req, nil
}

// payloadDigest is the hex SHA-256 integrity digest the server recomputes
// over the signed payload.
func payloadDigest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
