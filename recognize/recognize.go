// Package recognize wraps the dlib-based go-face recognizer. It provides
// both halves of the extraction pipeline: locating the face region in a
// capture and producing the 128-dimension descriptor for it.
package recognize

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/Kagami/go-face"

	"go-face-enroll/embedding"
	"go-face-enroll/images"
	"go-face-enroll/logging"
)

// maxRecognizerSide bounds the input fed to dlib. Full-resolution camera
// stills slow recognition down without improving the descriptor.
const maxRecognizerSide = 1280

// regionMargin widens the detected bounding box so the chin and hairline
// stay inside the crop.
const regionMargin = 0.25

// Recognizer implements embedding.RegionExtractor and embedding.Model on
// top of one shared dlib recognizer instance.
type Recognizer struct {
	rec *face.Recognizer
	log *slog.Logger
}

// New loads the dlib models from modelsDir. Callers own the returned
// recognizer and must Close it.
func New(modelsDir string) (*Recognizer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("loading recognizer models from %s: %w", modelsDir, err)
	}
	return &Recognizer{rec: rec, log: logging.For("recognize")}, nil
}

func (r *Recognizer) Close() {
	r.rec.Close()
}

// ExtractRegion locates the single face in the image at imagePath and
// writes the widened face crop to a work file the caller must clean up.
// Exactly one face must be present; zero or several yield ErrNoFace.
func (r *Recognizer) ExtractRegion(ctx context.Context, imagePath string) (*images.WorkFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := loadImage(imagePath)
	if err != nil {
		return nil, err
	}
	img = images.ResizeToFit(img, maxRecognizerSide, maxRecognizerSide)

	// dlib only reads JPEG, so the (possibly PNG) input goes through a
	// transcoded work file.
	probe, err := images.NewWorkJPEG(img)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := probe.Cleanup(); cerr != nil {
			r.log.Warn("failed to remove probe work file", "error", cerr)
		}
	}()

	found, err := r.rec.RecognizeSingleFile(probe.Path)
	if err != nil {
		return nil, fmt.Errorf("recognizing face: %w", err)
	}
	if found == nil {
		return nil, embedding.ErrNoFace
	}

	region := images.Crop(img, widen(found.Rectangle, img.Bounds()))
	return images.NewWorkJPEG(region)
}

// Embed produces the descriptor for a face region previously written by
// ExtractRegion.
func (r *Recognizer) Embed(ctx context.Context, regionPath string) (embedding.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	found, err := r.rec.RecognizeSingleFile(regionPath)
	if err != nil {
		return nil, fmt.Errorf("embedding face region: %w", err)
	}
	if found == nil {
		return nil, embedding.ErrNoFace
	}
	return widenDescriptor(found.Descriptor), nil
}

func loadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", path, err)
	}
	img, err := images.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}
	return img, nil
}

// widen grows rect by regionMargin on every side, clipped to bounds.
func widen(rect image.Rectangle, bounds image.Rectangle) image.Rectangle {
	mx := int(float64(rect.Dx()) * regionMargin)
	my := int(float64(rect.Dy()) * regionMargin)
	return image.Rect(rect.Min.X-mx, rect.Min.Y-my, rect.Max.X+mx, rect.Max.Y+my).Intersect(bounds)
}

func widenDescriptor(d face.Descriptor) embedding.Vector {
	vec := make(embedding.Vector, len(d))
	for i, v := range d {
		vec[i] = float64(v)
	}
	return vec
}
