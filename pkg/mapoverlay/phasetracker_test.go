//go:build cgo

package mapoverlay

import (
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestTranslationTrackerColdStateReturnsNoShift(t *testing.T) {
	tr := NewTranslationTracker(1.0)
	defer tr.Close()

	frame := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV32F)
	defer frame.Close()

	shift, ok := tr.Update(frame)
	if ok || shift != nil {
		t.Errorf("expected COLD state to return (nil, false), got (%v, %v)", shift, ok)
	}
}

func TestTranslationTrackerWarmAfterFirstFrame(t *testing.T) {
	tr := NewTranslationTracker(1.0)
	defer tr.Close()

	frame := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV32F)
	defer frame.Close()

	tr.Update(frame)
	if !tr.warm {
		t.Error("expected tracker to be warm after first frame")
	}
}

func TestTranslationTrackerResetReturnsToCold(t *testing.T) {
	tr := NewTranslationTracker(1.0)
	defer tr.Close()

	frame := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV32F)
	defer frame.Close()

	tr.Update(frame)
	tr.Reset()

	shift, ok := tr.Update(frame)
	if ok || shift != nil {
		t.Errorf("expected reset tracker to return to COLD state, got (%v, %v)", shift, ok)
	}
}

func TestTranslationTrackerDetectsKnownShift(t *testing.T) {
	base := gocv.NewMatWithSize(128, 128, gocv.MatTypeCV32F)
	defer base.Close()
	square := base.Region(image.Rect(40, 40, 60, 60))
	square.SetTo(gocv.NewScalar(255, 0, 0, 0))
	square.Close()

	shifted := gocv.NewMatWithSize(128, 128, gocv.MatTypeCV32F)
	defer shifted.Close()
	squareShifted := shifted.Region(image.Rect(45, 43, 65, 63))
	squareShifted.SetTo(gocv.NewScalar(255, 0, 0, 0))
	squareShifted.Close()

	tr := NewTranslationTracker(1.0)
	defer tr.Close()

	tr.Update(base)
	shift, ok := tr.Update(shifted)
	if !ok || shift == nil {
		t.Fatal("expected WARM state on second frame")
	}
	// Content moved by (+5,+3); the tracker reports the viewport-space
	// shift, which is sign-inverted.
	if math.Abs(shift.Dx+5) > 1.5 || math.Abs(shift.Dy+3) > 1.5 {
		t.Errorf("shift = (%v,%v), want ~(-5,-3)", shift.Dx, shift.Dy)
	}
}
