// Package store persists the single local enrollment: the embedding record
// and the enrolled face image, both under one directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go-face-enroll/embedding"
	"go-face-enroll/logging"
)

const (
	recordFile = "record.json"
	imageFile  = "enrolled.png"
)

// Record is the stored enrollment. All fields besides the embedding are
// optional; a record enrolled without a signing key simply omits them.
type Record struct {
	Embedding          embedding.Vector `json:"embedding"`
	BiometricSignature string           `json:"biometricSignature,omitempty"`
	BiometricPublicKey string           `json:"biometricPublicKey,omitempty"`
	SignedPayload      string           `json:"signedPayload,omitempty"`
	DeviceSignature    string           `json:"deviceSignature,omitempty"`
	EnrolledImagePath  string           `json:"enrolledImagePath,omitempty"`
	SavedAt            time.Time        `json:"savedAt"`
}

// LocalStore keeps at most one enrollment on local disk. A record that
// cannot be read back intact is reported as absent, never as an error;
// enrollment is always recoverable by enrolling again.
type LocalStore struct {
	dir string
	log *slog.Logger
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, log: logging.For("store")}, nil
}

// Save persists the enrollment, replacing any previous one. The image is
// written before the record so an interrupted save never leaves a record
// pointing at a missing image. A nil image removes any previous one.
func (s *LocalStore) Save(rec Record, imagePNG []byte) error {
	if len(rec.Embedding) == 0 {
		return errors.New("refusing to save record with empty embedding")
	}
	rec.SavedAt = time.Now().UTC()

	if imagePNG == nil {
		rec.EnrolledImagePath = ""
		if err := os.Remove(s.imagePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing stale enrolled image: %w", err)
		}
	} else {
		if err := os.WriteFile(s.imagePath(), imagePNG, 0o600); err != nil {
			return fmt.Errorf("writing enrolled image: %w", err)
		}
		rec.EnrolledImagePath = s.imagePath()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding enrollment record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing enrollment record: %w", err)
	}

	s.log.Info("enrollment saved", "dir", s.dir, "has_public_key", rec.BiometricPublicKey != "")
	return nil
}

// Load returns the stored enrollment, or ok=false when there is none or
// the stored data is unusable.
func (s *LocalStore) Load() (Record, bool) {
	data, err := os.ReadFile(s.recordPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("enrollment record unreadable, treating as absent", "error", err)
		}
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("enrollment record corrupt, treating as absent", "error", err)
		return Record{}, false
	}
	if len(rec.Embedding) == 0 {
		s.log.Warn("enrollment record has no embedding, treating as absent")
		return Record{}, false
	}
	return rec, true
}

// ImagePath returns the enrolled image reference recorded at save time,
// and whether that file is actually present.
func (s *LocalStore) ImagePath() (string, bool) {
	rec, ok := s.Load()
	if !ok || rec.EnrolledImagePath == "" {
		return "", false
	}
	if _, err := os.Stat(rec.EnrolledImagePath); err != nil {
		return "", false
	}
	return rec.EnrolledImagePath, true
}

// Exists reports whether a usable enrollment is stored.
func (s *LocalStore) Exists() bool {
	_, ok := s.Load()
	return ok
}

// Clear removes the enrollment. Clearing an empty store is a no-op.
func (s *LocalStore) Clear() error {
	for _, path := range []string{s.recordPath(), s.imagePath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

func (s *LocalStore) recordPath() string { return filepath.Join(s.dir, recordFile) }
func (s *LocalStore) imagePath() string  { return filepath.Join(s.dir, imageFile) }
