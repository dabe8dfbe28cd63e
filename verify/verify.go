// Package verify decides whether a new capture belongs to the enrolled
// person, entirely on local data. No network is involved.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go-face-enroll/embedding"
	"go-face-enroll/logging"
	"go-face-enroll/signing"
	"go-face-enroll/store"
)

// DefaultThreshold is the cosine similarity at or above which two
// embeddings count as the same person.
const DefaultThreshold = 0.6

// Kind tags a verification outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindNoStoredRecord
	KindEmbeddingMismatch
	KindSignatureMismatch
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNoStoredRecord:
		return "no_stored_record"
	case KindEmbeddingMismatch:
		return "embedding_mismatch"
	case KindSignatureMismatch:
		return "signature_mismatch"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the verification verdict. Score is meaningful for Success
// and EmbeddingMismatch; Err only for KindError.
type Outcome struct {
	Kind  Kind
	Score float64
	Err   error
}

// VectorSource produces an embedding for an image on disk. Satisfied by
// embedding.Extractor.
type VectorSource interface {
	Extract(ctx context.Context, imagePath string) (embedding.Vector, error)
}

// Options tunes the verifier. A nil Threshold means DefaultThreshold; an
// explicit 0 accepts any comparable pair. A nil Signer skips the device
// key comparison.
type Options struct {
	Threshold *float64
	Signer    signing.Signer
}

// Verifier compares fresh captures against the stored enrollment.
type Verifier struct {
	store     *store.LocalStore
	vectors   VectorSource
	threshold float64
	signer    signing.Signer
	log       *slog.Logger
}

func NewVerifier(st *store.LocalStore, vectors VectorSource, opts Options) *Verifier {
	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	return &Verifier{
		store:     st,
		vectors:   vectors,
		threshold: threshold,
		signer:    opts.Signer,
		log:       logging.For("verify"),
	}
}

// Verify extracts an embedding from the capture at imagePath and compares
// it against the enrollment. The stored side is re-extracted from the
// enrolled image when it is available, so both embeddings come from the
// same model version; the persisted vector is the fallback.
func (v *Verifier) Verify(ctx context.Context, imagePath string) Outcome {
	rec, ok := v.store.Load()
	if !ok {
		return Outcome{Kind: KindNoStoredRecord}
	}

	fresh, err := v.vectors.Extract(ctx, imagePath)
	if err != nil {
		return Outcome{Kind: KindError, Err: fmt.Errorf("extracting capture embedding: %w", err)}
	}

	stored := v.storedVector(ctx, rec)
	return v.compare(fresh, stored, rec, true)
}

// VerifyEmbedding compares an already extracted embedding against the
// enrollment. Used when the embedding arrives from elsewhere; the device
// key comparison does not apply here.
func (v *Verifier) VerifyEmbedding(_ context.Context, fresh embedding.Vector) Outcome {
	rec, ok := v.store.Load()
	if !ok {
		return Outcome{Kind: KindNoStoredRecord}
	}
	return v.compare(fresh, rec.Embedding, rec, false)
}

func (v *Verifier) storedVector(ctx context.Context, rec store.Record) embedding.Vector {
	path := rec.EnrolledImagePath
	if path == "" {
		return rec.Embedding
	}
	if _, err := os.Stat(path); err != nil {
		v.log.Warn("enrolled image missing, using stored vector", "path", path, "error", err)
		return rec.Embedding
	}
	vec, err := v.vectors.Extract(ctx, path)
	if err != nil {
		v.log.Warn("re-extraction from enrolled image failed, using stored vector", "error", err)
		return rec.Embedding
	}
	return vec
}

func (v *Verifier) compare(fresh, stored embedding.Vector, rec store.Record, checkKey bool) Outcome {
	score, err := embedding.Cosine(fresh, stored)
	if err != nil {
		return Outcome{Kind: KindError, Err: fmt.Errorf("comparing embeddings: %w", err)}
	}

	if score < v.threshold {
		v.log.Info("verification rejected", "score", score, "threshold", v.threshold)
		return Outcome{Kind: KindEmbeddingMismatch, Score: score}
	}

	if checkKey {
		if outcome, mismatch := v.checkDeviceKey(rec, score); mismatch {
			return outcome
		}
	}

	v.log.Info("verification accepted", "score", score)
	return Outcome{Kind: KindSuccess, Score: score}
}

// checkDeviceKey compares the current device key with the one bound at
// enrollment. When either side is missing the comparison is skipped; an
// enrollment made before key binding existed must stay verifiable.
func (v *Verifier) checkDeviceKey(rec store.Record, score float64) (Outcome, bool) {
	if v.signer == nil || rec.BiometricPublicKey == "" {
		v.log.Warn("device key comparison skipped",
			"have_signer", v.signer != nil, "record_has_key", rec.BiometricPublicKey != "")
		return Outcome{}, false
	}

	current, err := v.signer.PublicKey()
	if err != nil {
		v.log.Warn("device key comparison skipped, key unavailable", "error", err)
		return Outcome{}, false
	}
	if current != rec.BiometricPublicKey {
		v.log.Info("verification rejected, device key changed", "score", score)
		return Outcome{Kind: KindSignatureMismatch, Score: score}, true
	}
	return Outcome{}, false
}
