//go:build cgo

package mapoverlay

import (
	"image"

	"gocv.io/x/gocv"
)

// TrackerScale is the recommended resize factor applied before phase
// correlation, per spec.md §4.E.
const TrackerScale = 0.25

// TranslationTracker estimates the sub-pixel shift between successive
// query frames via FFT-based phase correlation. It never applies the
// shift itself; it only reports it (spec.md §4.E contract).
type TranslationTracker struct {
	scale float64

	warm     bool
	prevSize image.Point

	prev    gocv.Mat // pooled scratch: previous frame at tracker scale
	scratch gocv.Mat // pooled scratch: current frame at tracker scale
	window  gocv.Mat // empty Mat: disables Hanning windowing deliberately
}

// NewTranslationTracker constructs a tracker at the given resize scale.
func NewTranslationTracker(scale float64) *TranslationTracker {
	if scale <= 0 {
		scale = TrackerScale
	}
	return &TranslationTracker{
		scale:   scale,
		prev:    gocv.NewMat(),
		scratch: gocv.NewMat(),
		window:  gocv.NewMat(),
	}
}

// Close releases the tracker's pooled scratch matrices.
func (t *TranslationTracker) Close() {
	t.prev.Close()
	t.scratch.Close()
	t.window.Close()
}

// Shift is the translation tracker's output: a viewport-space shift and
// the phase-correlation response used as its confidence.
type Shift struct {
	Dx, Dy     float64
	Confidence float64
}

// Update resizes query to the tracker scale and correlates it against
// the stored previous frame. Returns (nil, false) in the COLD state (no
// previous frame yet); stores the current frame either way.
func (t *TranslationTracker) Update(queryGray gocv.Mat) (*Shift, bool) {
	ResizeArea(queryGray, &t.scratch, t.scale)

	size := image.Point{X: t.scratch.Cols(), Y: t.scratch.Rows()}
	sizeChanged := t.warm && size != t.prevSize

	if !t.warm || sizeChanged {
		t.scratch.CopyTo(&t.prev)
		t.prevSize = size
		t.warm = true
		return nil, false
	}

	// window is an empty Mat, per spec.md §4.E: Hanning windowing is
	// deliberately not applied. PhaseCorrelate(prev, curr) returns how
	// far the image content moved from prev to curr.
	shiftPt, response := gocv.PhaseCorrelate(t.prev, t.scratch, t.window)
	t.scratch.CopyTo(&t.prev)

	// Sign inversion: image content moving right corresponds to the
	// viewport moving left.
	shift := &Shift{
		Dx:         -float64(shiftPt.X) / t.scale,
		Dy:         -float64(shiftPt.Y) / t.scale,
		Confidence: response,
	}
	return shift, true
}

// Reset clears the stored previous frame, returning the tracker to the
// COLD state. Called by the coordinator on an explicit reset or on loss
// of tracking; a frame-size change is handled inside Update.
func (t *TranslationTracker) Reset() {
	t.warm = false
	t.prevSize = image.Point{}
}
