package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/multierr"

	"go-face-enroll/images"
)

// ErrNoFace reports that no face could be located in the image, after all
// rotation attempts were exhausted.
var ErrNoFace = errors.New("no face detected")

// ExtractionError wraps decode/encode/model failures that are not a plain
// "no face" outcome.
type ExtractionError struct {
	Detail string
	Err    error
}

func (e ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding extraction failed: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("embedding extraction failed: %s", e.Detail)
}

func (e ExtractionError) Unwrap() error { return e.Err }

// RegionExtractor locates the dominant face in an image file and returns the
// cropped region as a work file. The caller owns the returned file.
type RegionExtractor interface {
	ExtractRegion(ctx context.Context, imagePath string) (*images.WorkFile, error)
}

// Model produces the embedding vector for a cropped face region.
type Model interface {
	Embed(ctx context.Context, regionPath string) (Vector, error)
}

// rotationLadder is the ordered set of canonical rotations tried during
// extraction. Embedding models are orientation-sensitive, and orientation
// metadata is wrong or absent often enough (gallery imports in particular)
// that trying all four quarter turns is cheaper than failing the capture.
var rotationLadder = [...]int{0, 90, 180, 270}

// Extractor runs the decode → orient → rotate → region → model pipeline.
type Extractor struct {
	regions RegionExtractor
	model   Model
	log     *slog.Logger
}

func NewExtractor(regions RegionExtractor, model Model) *Extractor {
	return &Extractor{
		regions: regions,
		model:   model,
		log:     slog.Default().With("component", "extractor"),
	}
}

// Extract derives the face embedding for the image at imagePath. It fails
// with ErrNoFace when every rotation attempt found no face, or with an
// ExtractionError for decode/model failures.
func (e *Extractor) Extract(ctx context.Context, imagePath string) (Vector, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, ExtractionError{Detail: "failed to read capture", Err: err}
	}

	upright, err := images.NormalizeOrientation(data)
	if err != nil {
		// Undecodable bytes cannot be rotated; hand the original file to the
		// collaborators unmodified and let them have one attempt at it.
		e.log.Warn("Capture not decodable, skipping orientation recovery", "error", err)
		vec, err := e.attempt(ctx, imagePath)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, ErrNoFace
		}
		return vec, nil
	}

	var lastNoFace error
	for _, angle := range rotationLadder {
		rotated, err := images.Rotate(upright, angle)
		if err != nil {
			return nil, ExtractionError{Detail: fmt.Sprintf("rotation by %d failed", angle), Err: err}
		}

		wf, err := images.NewWorkImage(rotated)
		if err != nil {
			return nil, ExtractionError{Detail: "failed to stage rotated image", Err: err}
		}

		vec, attemptErr := e.attempt(ctx, wf.Path)
		if cleanupErr := wf.Cleanup(); cleanupErr != nil {
			if attemptErr != nil {
				attemptErr = multierr.Append(attemptErr, cleanupErr)
			} else {
				e.log.Warn("Failed to remove rotated work image", "error", cleanupErr)
			}
		}

		if attemptErr == nil && len(vec) > 0 {
			e.log.Debug("Embedding extracted", "angle", angle, "dimensions", len(vec))
			return vec, nil
		}

		switch {
		case attemptErr == nil:
			// Model answered with an empty vector; treat like a miss.
			e.log.Debug("Empty embedding at rotation", "angle", angle)
		case errors.Is(attemptErr, ErrNoFace):
			e.log.Debug("No face at rotation", "angle", angle)
			lastNoFace = attemptErr
		default:
			return nil, attemptErr
		}
	}

	if lastNoFace != nil {
		return nil, lastNoFace
	}
	return nil, ErrNoFace
}

// attempt runs one region-extraction + embedding pass against a single image
// file, cleaning up the region file on every path.
func (e *Extractor) attempt(ctx context.Context, path string) (Vector, error) {
	region, err := e.regions.ExtractRegion(ctx, path)
	if err != nil {
		return nil, err
	}

	vec, err := e.model.Embed(ctx, region.Path)
	if cleanupErr := region.Cleanup(); cleanupErr != nil {
		if err != nil {
			err = multierr.Append(err, cleanupErr)
		} else {
			e.log.Warn("Failed to remove face region file", "error", cleanupErr)
		}
	}
	if err != nil {
		return nil, err
	}
	return vec, nil
}
