package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go-face-enroll/frames"
	"go-face-enroll/logging"
)

// State is the liveness session phase. The machine only moves forward
// through the blink sequence; losing the face drops it back to Searching.
type State int

const (
	StateSearching State = iota
	StateAdjusting
	StateReadyToBlink
	StateEyesClosedObserved
	StateCaptured
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateAdjusting:
		return "adjusting"
	case StateReadyToBlink:
		return "ready_to_blink"
	case StateEyesClosedObserved:
		return "eyes_closed_observed"
	case StateCaptured:
		return "captured"
	default:
		return "unknown"
	}
}

// ErrMultipleFaces ends the session: with more than one face in view there
// is no way to know whose blink is being observed.
var ErrMultipleFaces = errors.New("multiple faces in view")

// Result is one per-frame outcome delivered to the session callback.
// Captured is non-nil on exactly one result per session. Err is terminal.
type Result struct {
	State    State
	Progress ScanProgress
	Guidance string
	Captured *frames.Frame
	Err      error
}

// Detector finds faces in a frame. Implementations run the actual vision
// model and may be slow; the scanner never calls it concurrently.
type Detector interface {
	Detect(ctx context.Context, f *frames.Frame) ([]FaceGeometry, error)
}

// Scanner runs the liveness session over a stream of frames. Frames are
// submitted from the camera delivery path; while one frame is being
// analyzed, newer ones are dropped rather than queued so the delivery
// path never blocks.
type Scanner struct {
	det      Detector
	eval     *Evaluator
	opts     Options
	onResult func(Result)

	busy    atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	state    State
	lastGood *frames.Frame
}

// New creates a scanner in the Searching state. onResult receives one
// Result per analyzed frame and may be nil.
func New(det Detector, opts Options, onResult func(Result)) *Scanner {
	return &Scanner{
		det:      det,
		eval:     NewEvaluator(opts),
		opts:     opts,
		onResult: onResult,
		state:    StateSearching,
	}
}

// State returns the current session phase.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubmitFrame hands one frame to the session. It returns immediately;
// false means the frame was dropped because the session has stopped or a
// previous frame is still being analyzed.
func (s *Scanner) SubmitFrame(ctx context.Context, f *frames.Frame) bool {
	if s.stopped.Load() {
		return false
	}
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.busy.Store(false)
		s.process(ctx, f)
	}()
	return true
}

// Stop ends the session. Idempotent; frames submitted afterwards are
// dropped and no further results are delivered.
func (s *Scanner) Stop() {
	s.stopped.Store(true)
}

func (s *Scanner) process(ctx context.Context, f *frames.Frame) {
	faces, err := s.det.Detect(ctx, f)
	if err != nil {
		// A detector hiccup on one frame is not a session failure; the
		// next frame gets a fresh chance.
		logging.For("scanner").Warn("face detection failed, skipping frame", "error", err)
		return
	}

	s.mu.Lock()
	if s.state == StateCaptured || s.stopped.Load() {
		s.mu.Unlock()
		return
	}

	var res Result
	switch len(faces) {
	case 0:
		s.state = StateSearching
		s.lastGood = nil
		res = Result{State: StateSearching, Guidance: GuideCenterFace}
	case 1:
		res = s.step(faces[0], f)
	default:
		s.stopped.Store(true)
		res = Result{State: s.state, Err: ErrMultipleFaces}
	}
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(res)
	}
}

// step advances the machine by at most one transition for a single-face
// frame. Caller holds the mutex.
func (s *Scanner) step(g FaceGeometry, f *frames.Frame) Result {
	progress, guidance := s.eval.Evaluate(g, f.Width, f.Height)
	gates := progress.InOval && progress.SizeOK && progress.PoseOK
	eyesClosed := g.LeftEyeOpen < s.opts.EyeClosedThreshold &&
		g.RightEyeOpen < s.opts.EyeClosedThreshold
	eyesReopened := g.LeftEyeOpen >= s.opts.EyeOpenThreshold &&
		g.RightEyeOpen >= s.opts.EyeOpenThreshold

	switch s.state {
	case StateSearching:
		s.state = StateAdjusting

	case StateAdjusting:
		if gates {
			s.state = StateReadyToBlink
		}

	case StateReadyToBlink:
		switch {
		case !gates:
			s.state = StateAdjusting
		case eyesClosed:
			s.state = StateEyesClosedObserved
		}

	case StateEyesClosedObserved:
		switch {
		case !gates:
			s.state = StateAdjusting
		case eyesReopened:
			captured := s.lastGood
			if captured == nil {
				captured = f
			}
			s.state = StateCaptured
			return Result{
				State:    StateCaptured,
				Progress: progress,
				Guidance: guidance,
				Captured: captured,
			}
		}
	}

	// EyesOnCamera is advisory for feedback, but a frame only qualifies
	// as the capture candidate when the eyes are genuinely open.
	if gates && progress.EyesOnCamera {
		s.lastGood = f
	}

	return Result{State: s.state, Progress: progress, Guidance: guidance}
}
