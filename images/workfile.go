package images

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WorkFile is a single-owner temporary file. Whoever creates one removes it
// on every exit path, usually via defer.
type WorkFile struct {
	Path string
}

// NewWorkFile writes data to a fresh uniquely named file under the system
// temp directory.
func NewWorkFile(ext string, data []byte) (*WorkFile, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("capture-%s%s", uuid.NewString(), ext))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write work file: %w", err)
	}
	return &WorkFile{Path: path}, nil
}

// NewWorkImage encodes img as PNG into a fresh work file.
func NewWorkImage(img image.Image) (*WorkFile, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return NewWorkFile(".png", data)
}

// NewWorkJPEG encodes img as JPEG into a fresh work file, for consumers
// that only read JPEG.
func NewWorkJPEG(img image.Image) (*WorkFile, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return NewWorkFile(".jpg", data)
}

// Cleanup removes the file. Removing an already removed file is not an error.
func (w *WorkFile) Cleanup() error {
	if w == nil || w.Path == "" {
		return nil
	}
	err := os.Remove(w.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove work file %s: %w", w.Path, err)
	}
	return nil
}
