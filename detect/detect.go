// Package detect runs face detection on camera frames using the pigo
// cascade classifier. It adapts raw cascade detections to the geometry
// type the liveness engine consumes.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	pigo "github.com/esimov/pigo/core"

	"go-face-enroll/frames"
	"go-face-enroll/images"
	"go-face-enroll/logging"
	"go-face-enroll/scanner"
)

// Config locates the cascade files and tunes the detection sweep.
type Config struct {
	FaceCascadePath string

	// Optional pupil localization cascade. Without it eye-open scores are
	// reported as fully open and blink detection will not trigger.
	PuplocCascadePath string

	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64

	// Overlap ratio above which detections are merged into one face.
	ClusterIoU float64

	// Detections scoring below this are discarded as noise.
	QualityThreshold float32
}

func DefaultConfig(faceCascade, puplocCascade string) Config {
	return Config{
		FaceCascadePath:   faceCascade,
		PuplocCascadePath: puplocCascade,
		MinSize:           60,
		MaxSize:           1000,
		ShiftFactor:       0.1,
		ScaleFactor:       1.1,
		ClusterIoU:        0.2,
		QualityThreshold:  5.0,
	}
}

// Detector is a scanner.Detector backed by pigo. It is safe for reuse
// across frames but not for concurrent Detect calls; the scanner
// serializes them.
type Detector struct {
	cfg        Config
	classifier *pigo.Pigo
	puploc     *pigo.PuplocCascade
	log        *slog.Logger
}

func New(cfg Config) (*Detector, error) {
	cascade, err := os.ReadFile(cfg.FaceCascadePath)
	if err != nil {
		return nil, fmt.Errorf("reading face cascade: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpacking face cascade: %w", err)
	}

	d := &Detector{
		cfg:        cfg,
		classifier: classifier,
		log:        logging.For("detect"),
	}

	if cfg.PuplocCascadePath != "" {
		plc, err := os.ReadFile(cfg.PuplocCascadePath)
		if err != nil {
			return nil, fmt.Errorf("reading puploc cascade: %w", err)
		}
		d.puploc, err = pigo.NewPuplocCascade().UnpackCascade(plc)
		if err != nil {
			return nil, fmt.Errorf("unpacking puploc cascade: %w", err)
		}
	} else {
		d.log.Warn("no puploc cascade configured, eye state will read as open")
	}

	return d, nil
}

// Detect converts the frame to grayscale, sweeps the cascade over it and
// returns every clustered face above the quality threshold.
func (d *Detector) Detect(ctx context.Context, f *frames.Frame) ([]scanner.FaceGeometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rgb, err := frames.ToRGB(f)
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	pixels, cols, rows := images.Grayscale(rgb)

	params := pigo.CascadeParams{
		MinSize:     d.cfg.MinSize,
		MaxSize:     d.cfg.MaxSize,
		ShiftFactor: d.cfg.ShiftFactor,
		ScaleFactor: d.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.cfg.ClusterIoU)

	var faces []scanner.FaceGeometry
	for _, det := range dets {
		if det.Q < d.cfg.QualityThreshold {
			continue
		}
		g := geometryFrom(det)
		g.LeftEyeOpen, g.RightEyeOpen = d.eyeScores(det, params.ImageParams)
		faces = append(faces, g)
	}

	d.log.Debug("frame analyzed", "faces", len(faces), "raw_detections", len(dets))
	return faces, nil
}

// geometryFrom maps a center-and-scale detection to a bounding box.
func geometryFrom(det pigo.Detection) scanner.FaceGeometry {
	half := float64(det.Scale) / 2
	return scanner.FaceGeometry{
		Left:   float64(det.Col) - half,
		Top:    float64(det.Row) - half,
		Right:  float64(det.Col) + half,
		Bottom: float64(det.Row) + half,
	}
}

// eyeScores localizes both pupils inside the face region. The localization
// quality serves as the eye-open probability: a closed eye gives the
// cascade nothing to lock onto.
func (d *Detector) eyeScores(det pigo.Detection, img pigo.ImageParams) (left, right float64) {
	if d.puploc == nil {
		return 1.0, 1.0
	}

	scale := float64(det.Scale)
	seed := func(colOff float64) pigo.Puploc {
		return pigo.Puploc{
			Row:      det.Row - int(0.075*scale),
			Col:      det.Col + int(colOff*scale),
			Scale:    float32(scale) * 0.25,
			Perturbs: 50,
		}
	}

	left = pupilScore(d.puploc.RunDetector(seed(-0.175), img, 0.0, false))
	right = pupilScore(d.puploc.RunDetector(seed(0.175), img, 0.0, false))
	return left, right
}

func pupilScore(p *pigo.Puploc) float64 {
	if p == nil || p.Row < 0 || p.Col < 0 {
		return 0
	}
	return clamp01(float64(p.Q))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
