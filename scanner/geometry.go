// Package scanner implements the per-frame liveness decision engine: face
// geometry gating plus the blink state machine that picks the capture
// instant. It is fed frames one at a time and holds no rendering concerns.
package scanner

import "math"

// FaceGeometry is one detected face as reported by the external detector,
// in the pixel space of the source frame. Pose angles are optional since
// not every detector provides them.
type FaceGeometry struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64

	Yaw   *float64
	Roll  *float64
	Pitch *float64

	LeftEyeOpen  float64
	RightEyeOpen float64
}

// ScanProgress is the per-frame gate readout used to drive user feedback.
type ScanProgress struct {
	FaceDetected bool
	InOval       bool
	SizeOK       bool
	PoseOK       bool
	EyesOnCamera bool
}

// Options configures the geometry gates and the blink hysteresis.
type Options struct {
	// Normalized ellipse half-axes of the capture guide region.
	OvalHalfWidth  float64
	OvalHalfHeight float64

	// Acceptable band for the normalized bounding-box average extent.
	FaceSizeMin float64
	FaceSizeMax float64

	// Head-pose limits in degrees. Absent angles always pass.
	MaxYawDeg   float64
	MaxRollDeg  float64
	MaxPitchDeg float64

	// Minimum eye-open probability for the eyes-on-camera readout and for
	// a frame to qualify as a "last good frame".
	EyesOpenMin float64

	// Blink hysteresis: eyes must drop below the closed threshold and later
	// rise above the open threshold.
	EyeClosedThreshold float64
	EyeOpenThreshold   float64
}

// DefaultOptions returns the tuning used in production capture.
func DefaultOptions() Options {
	return Options{
		OvalHalfWidth:      0.42,
		OvalHalfHeight:     0.40,
		FaceSizeMin:        0.18,
		FaceSizeMax:        0.55,
		MaxYawDeg:          20,
		MaxRollDeg:         20,
		MaxPitchDeg:        20,
		EyesOpenMin:        0.50,
		EyeClosedThreshold: 0.25,
		EyeOpenThreshold:   0.45,
	}
}

// Guidance strings, one per unmet gate. The priority order (oval, then size,
// then pose) is a contract: reordering produces contradictory instructions.
const (
	GuideCenterFace = "Center your face in the oval"
	GuideMoveCloser = "Move closer"
	GuideMoveBack   = "Move back"
	GuideLookAhead  = "Look straight at the camera"
	GuideBlink      = "Blink when you're ready"
)

// Evaluator computes the per-frame gate predicates for one face.
type Evaluator struct {
	opts Options
}

func NewEvaluator(opts Options) *Evaluator {
	return &Evaluator{opts: opts}
}

// Evaluate normalizes the face against the frame dimensions and returns the
// gate readout plus the single next required action.
func (e *Evaluator) Evaluate(g FaceGeometry, frameW, frameH int) (ScanProgress, string) {
	fw := float64(frameW)
	fh := float64(frameH)

	progress := ScanProgress{FaceDetected: true}

	cx := (g.Left+g.Right)/2/fw - 0.5
	cy := (g.Top+g.Bottom)/2/fh - 0.5
	dx := cx / e.opts.OvalHalfWidth
	dy := cy / e.opts.OvalHalfHeight
	progress.InOval = dx*dx+dy*dy <= 1.0 // boundary is inclusive

	size := ((g.Right-g.Left)/fw + (g.Bottom-g.Top)/fh) / 2
	progress.SizeOK = size >= e.opts.FaceSizeMin && size <= e.opts.FaceSizeMax

	progress.PoseOK = withinAngle(g.Yaw, e.opts.MaxYawDeg) &&
		withinAngle(g.Roll, e.opts.MaxRollDeg) &&
		withinAngle(g.Pitch, e.opts.MaxPitchDeg)

	progress.EyesOnCamera = progress.PoseOK &&
		g.LeftEyeOpen >= e.opts.EyesOpenMin &&
		g.RightEyeOpen >= e.opts.EyesOpenMin

	switch {
	case !progress.InOval:
		return progress, GuideCenterFace
	case !progress.SizeOK:
		if size < e.opts.FaceSizeMin {
			return progress, GuideMoveCloser
		}
		return progress, GuideMoveBack
	case !progress.PoseOK:
		return progress, GuideLookAhead
	default:
		return progress, GuideBlink
	}
}

// withinAngle treats an absent angle as passing: a detector that cannot
// report pose must not lock the user out.
func withinAngle(angle *float64, max float64) bool {
	if angle == nil {
		return true
	}
	return math.Abs(*angle) <= max
}
