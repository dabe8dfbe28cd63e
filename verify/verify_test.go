package verify

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"go-face-enroll/embedding"
	"go-face-enroll/store"
)

type mapSource struct {
	vectors map[string]embedding.Vector
	errs    map[string]error
}

func (m *mapSource) Extract(_ context.Context, path string) (embedding.Vector, error) {
	if err, ok := m.errs[path]; ok {
		return nil, err
	}
	if vec, ok := m.vectors[path]; ok {
		return vec, nil
	}
	return nil, embedding.ErrNoFace
}

type fakeSigner struct {
	pub    string
	pubErr error
}

func (f *fakeSigner) SignBytes(_ []byte) (string, error)     { return "sig", nil }
func (f *fakeSigner) SignChallenge(_ string) (string, error) { return "sig", nil }
func (f *fakeSigner) PublicKey() (string, error)             { return f.pub, f.pubErr }

func enrolledStore(t *testing.T, rec store.Record) (*store.LocalStore, string) {
	t.Helper()
	s, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(rec, []byte("png")))
	imagePath, ok := s.ImagePath()
	require.True(t, ok)
	return s, imagePath
}

func TestVerifyMatchingFace(t *testing.T) {
	vec := embedding.Vector{0.5, 0.5, 0}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec})

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": vec,
		imagePath:     vec,
	}}, Options{})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
	require.InDelta(t, 1.0, out.Score, 1e-9)
}

func TestVerifyDifferentFace(t *testing.T) {
	s, imagePath := enrolledStore(t, store.Record{Embedding: embedding.Vector{1, 0, 0}})

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": {0, 1, 0},
		imagePath:     {1, 0, 0},
	}}, Options{})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindEmbeddingMismatch, out.Kind)
	require.InDelta(t, 0.0, out.Score, 1e-9)
}

func TestVerifyWithoutEnrollment(t *testing.T) {
	s, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	v := NewVerifier(s, &mapSource{}, Options{})
	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindNoStoredRecord, out.Kind)
}

func TestVerifyRejectsChangedDeviceKey(t *testing.T) {
	vec := embedding.Vector{1, 0}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec, BiometricPublicKey: "enrolled-key"})

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": vec,
		imagePath:     vec,
	}}, Options{Signer: &fakeSigner{pub: "different-key"}})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSignatureMismatch, out.Kind)
	require.InDelta(t, 1.0, out.Score, 1e-9)
}

func TestVerifySkipsKeyCheckWhenRecordHasNone(t *testing.T) {
	vec := embedding.Vector{1, 0}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec})

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": vec,
		imagePath:     vec,
	}}, Options{Signer: &fakeSigner{pub: "new-key"}})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
}

func TestVerifySkipsKeyCheckWhenKeyUnavailable(t *testing.T) {
	vec := embedding.Vector{1, 0}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec, BiometricPublicKey: "enrolled-key"})

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": vec,
		imagePath:     vec,
	}}, Options{Signer: &fakeSigner{pubErr: errors.New("keystore locked")}})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
}

func TestVerifyPrefersReExtractedEnrollmentVector(t *testing.T) {
	// The persisted vector points elsewhere; only the embedding freshly
	// extracted from the enrolled image matches the capture.
	s, imagePath := enrolledStore(t, store.Record{Embedding: embedding.Vector{0, 0, 1}})

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": {1, 0, 0},
		imagePath:     {1, 0, 0},
	}}, Options{})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
}

func TestVerifyFallsBackToStoredVector(t *testing.T) {
	vec := embedding.Vector{1, 0}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec})

	v := NewVerifier(s, &mapSource{
		vectors: map[string]embedding.Vector{"capture.png": vec},
		errs:    map[string]error{imagePath: embedding.ErrNoFace},
	}, Options{})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
}

func TestVerifyWithMissingEnrolledImage(t *testing.T) {
	vec := embedding.Vector{1, 0}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec})
	require.NoError(t, os.Remove(imagePath))

	v := NewVerifier(s, &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": vec,
	}}, Options{})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
}

func TestVerifyExtractionFailure(t *testing.T) {
	s, _ := enrolledStore(t, store.Record{Embedding: embedding.Vector{1, 0}})

	v := NewVerifier(s, &mapSource{
		errs: map[string]error{"capture.png": embedding.ErrNoFace},
	}, Options{})

	out := v.Verify(context.Background(), "capture.png")
	require.Equal(t, KindError, out.Kind)
	require.ErrorIs(t, out.Err, embedding.ErrNoFace)
}

func TestVerifyEmbeddingSkipsDeviceKey(t *testing.T) {
	vec := embedding.Vector{1, 0}
	s, _ := enrolledStore(t, store.Record{Embedding: vec, BiometricPublicKey: "enrolled-key"})

	v := NewVerifier(s, &mapSource{}, Options{Signer: &fakeSigner{pub: "different-key"}})

	out := v.VerifyEmbedding(context.Background(), vec)
	require.Equal(t, KindSuccess, out.Kind)
	require.InDelta(t, 1.0, out.Score, 1e-9)
}

func TestCustomThreshold(t *testing.T) {
	vec := embedding.Vector{1, 0}
	near := embedding.Vector{1, 0.5}
	s, imagePath := enrolledStore(t, store.Record{Embedding: vec})

	src := &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": near,
		imagePath:     vec,
	}}

	// Cosine of these two is ~0.894: accepted at the default threshold,
	// rejected at a stricter one.
	out := NewVerifier(s, src, Options{}).Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)

	strict := 0.95
	out = NewVerifier(s, src, Options{Threshold: &strict}).Verify(context.Background(), "capture.png")
	require.Equal(t, KindEmbeddingMismatch, out.Kind)
}

func TestExplicitZeroThreshold(t *testing.T) {
	// An explicit 0 is a real threshold, not a request for the default:
	// even orthogonal vectors pass.
	s, imagePath := enrolledStore(t, store.Record{Embedding: embedding.Vector{1, 0}})

	src := &mapSource{vectors: map[string]embedding.Vector{
		"capture.png": {0, 1},
		imagePath:     {1, 0},
	}}

	zero := 0.0
	out := NewVerifier(s, src, Options{Threshold: &zero}).Verify(context.Background(), "capture.png")
	require.Equal(t, KindSuccess, out.Kind)
	require.InDelta(t, 0.0, out.Score, 1e-9)
}
