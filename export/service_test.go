package export

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go-face-enroll/embedding"
	"go-face-enroll/models"
	"go-face-enroll/signing"
)

type staticSource struct {
	vec embedding.Vector
	err error
}

func (s *staticSource) Extract(_ context.Context, _ string) (embedding.Vector, error) {
	return s.vec, s.err
}

type fakeSigner struct {
	sigErr error
}

func (f *fakeSigner) SignBytes(_ []byte) (string, error) {
	if f.sigErr != nil {
		return "", f.sigErr
	}
	return "sig-b64", nil
}

func (f *fakeSigner) SignChallenge(challenge string) (string, error) {
	return f.SignBytes([]byte(challenge))
}

func (f *fakeSigner) PublicKey() (string, error) { return "pub-b64", nil }

// fakeClient records the last request per endpoint and answers from canned
// results.
type fakeClient struct {
	challenge string

	registered  *models.RegistrationRequest
	recovered   *models.RegistrationRequest
	challenged  *models.ChallengeVerificationRequest
	result      Result
	startErr    error
	registerErr error
}

func (f *fakeClient) StartEnrollment(_ context.Context) (*models.EnrollStartResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.EnrollStartResponse{SessionId: "sess-1", Challenge: f.challenge}, nil
}

func (f *fakeClient) Register(_ context.Context, req models.RegistrationRequest, _ map[string]string) (*Result, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.registered = &req
	return &f.result, nil
}

func (f *fakeClient) Recover(_ context.Context, req models.RegistrationRequest, _ map[string]string) (*Result, error) {
	f.recovered = &req
	return &f.result, nil
}

func (f *fakeClient) VerifyChallenge(_ context.Context, req models.ChallengeVerificationRequest, _ map[string]string) (*Result, error) {
	f.challenged = &req
	return &f.result, nil
}

func (f *fakeClient) HealthCheck(_ context.Context) error { return nil }

func digestOf(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func TestEnrollBuildsSignedRecord(t *testing.T) {
	client := &fakeClient{challenge: "nonce-7", result: Result{Status: StatusSuccess, Code: "success"}}
	vec := embedding.Vector{0.1, 0.2, 0.3}
	svc := NewService(client, &staticSource{vec: vec}, &fakeSigner{})

	req, result, err := svc.Enroll(context.Background(), "capture.png")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	require.Equal(t, []float64(vec), req.Embedding)
	require.Equal(t, "sig-b64", req.BiometricSignature)
	require.Equal(t, "pub-b64", req.BiometricPublicKey)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("nonce-7")), req.SignedPayload)
	require.Equal(t, digestOf(req.SignedPayload), req.DeviceSignature)

	require.NotNil(t, client.registered)
	require.Equal(t, *req, *client.registered)
}

func TestEnrollWithoutSigner(t *testing.T) {
	client := &fakeClient{challenge: "nonce", result: Result{Status: StatusSuccess}}
	svc := NewService(client, &staticSource{vec: embedding.Vector{1}}, nil)

	req, _, err := svc.Enroll(context.Background(), "capture.png")
	require.NoError(t, err)
	require.Empty(t, req.BiometricSignature)
	require.Empty(t, req.BiometricPublicKey)
	require.Empty(t, req.SignedPayload)
	require.Empty(t, req.DeviceSignature)
}

func TestEnrollContinuesWhenHardwareUnavailable(t *testing.T) {
	client := &fakeClient{challenge: "nonce", result: Result{Status: StatusSuccess}}
	svc := NewService(client, &staticSource{vec: embedding.Vector{1}},
		&fakeSigner{sigErr: &signing.HardwareUnavailableError{Detail: "no enclave"}})

	req, _, err := svc.Enroll(context.Background(), "capture.png")
	require.NoError(t, err)
	require.Empty(t, req.BiometricSignature)
	require.NotEmpty(t, req.Embedding)
}

func TestEnrollAbortsOnUserCancel(t *testing.T) {
	client := &fakeClient{challenge: "nonce"}
	svc := NewService(client, &staticSource{vec: embedding.Vector{1}},
		&fakeSigner{sigErr: &signing.UserCanceledError{}})

	_, _, err := svc.Enroll(context.Background(), "capture.png")
	require.Error(t, err)
	var canceled *signing.UserCanceledError
	require.ErrorAs(t, err, &canceled)
	require.Nil(t, client.registered)
}

func TestEnrollPropagatesExtractionFailure(t *testing.T) {
	client := &fakeClient{challenge: "nonce"}
	svc := NewService(client, &staticSource{err: embedding.ErrNoFace}, &fakeSigner{})

	_, _, err := svc.Enroll(context.Background(), "capture.png")
	require.ErrorIs(t, err, embedding.ErrNoFace)
}

func TestEnrollFailsWhenSessionUnavailable(t *testing.T) {
	client := &fakeClient{startErr: errors.New("server down")}
	svc := NewService(client, &staticSource{vec: embedding.Vector{1}}, &fakeSigner{})

	_, _, err := svc.Enroll(context.Background(), "capture.png")
	require.ErrorContains(t, err, "starting enrollment session")
}

func TestRecoverKeyUsesRecoveryEndpoint(t *testing.T) {
	client := &fakeClient{challenge: "nonce", result: Result{Status: StatusSuccess}}
	svc := NewService(client, &staticSource{vec: embedding.Vector{1}}, &fakeSigner{})

	req, _, err := svc.RecoverKey(context.Background(), "capture.png")
	require.NoError(t, err)
	require.Nil(t, client.registered)
	require.NotNil(t, client.recovered)
	require.Equal(t, *req, *client.recovered)
}

func TestProveChallenge(t *testing.T) {
	client := &fakeClient{result: Result{Status: StatusSuccess, Code: "verified", Token: "jwt"}}
	svc := NewService(client, &staticSource{}, &fakeSigner{})

	result, err := svc.ProveChallenge(context.Background(), "challenge-text")
	require.NoError(t, err)
	require.Equal(t, "jwt", result.Token)

	// The challenge travels as plain text here, unlike registration.
	require.Equal(t, "challenge-text", client.challenged.SignedPayload)
	require.Equal(t, digestOf("challenge-text"), client.challenged.DeviceSignature)
	require.Equal(t, "sig-b64", client.challenged.BiometricSignature)
}

func TestProveChallengeRequiresSigner(t *testing.T) {
	svc := NewService(&fakeClient{}, &staticSource{}, nil)
	_, err := svc.ProveChallenge(context.Background(), "challenge")
	require.Error(t, err)
}
