//go:build cgo

package mapoverlay

import (
	"testing"

	"gocv.io/x/gocv"
)

func newTestCoordinator(params CoordinatorParams) *Coordinator {
	// A cascade with zero levels short-circuits to "every method failed"
	// without ever touching its matcher or pyramid, letting these tests
	// exercise Coordinator's decision logic deterministically and without
	// any feature extraction.
	cascade := NewCascadeMatcher(nil, nil, nil)
	tracker := NewTranslationTracker(TrackerScale)
	return NewCoordinator(cascade, tracker, 1000, 1000, params)
}

func TestExpandROICentersOnPredictedPositionWithMargin(t *testing.T) {
	predicted := Viewport{X: 100, Y: 100, W: 0, H: 0} // center only matters here
	sizeFrom := Viewport{X: 0, Y: 0, W: 40, H: 20}

	roi := expandROI(predicted, sizeFrom, 1.5)

	wantW, wantH := 60.0, 30.0
	if roi.W != wantW || roi.H != wantH {
		t.Errorf("roi size = (%v, %v), want (%v, %v)", roi.W, roi.H, wantW, wantH)
	}
	cx, cy := roi.Center()
	if cx != 100 || cy != 100 {
		t.Errorf("roi center = (%v, %v), want (100, 100)", cx, cy)
	}
}

func TestTickRevalidationFalseWithoutPriorViewport(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorParams())
	for i := 0; i < 10; i++ {
		if c.tickRevalidation(false) {
			t.Fatal("tickRevalidation must never fire with no prior viewport")
		}
	}
}

func TestTickRevalidationFiresEveryKFrames(t *testing.T) {
	c := newTestCoordinator(CoordinatorParams{KRevalidate: 3})
	var fired int
	for i := 0; i < 9; i++ {
		if c.tickRevalidation(true) {
			fired++
		}
	}
	if fired != 3 {
		t.Errorf("fired %d times in 9 frames with K=3, want 3", fired)
	}
}

func TestCommitAndLastViewportRoundTrip(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorParams())
	if _, _, ok := c.LastViewport(); ok {
		t.Fatal("expected no viewport before any commit")
	}

	v := Viewport{X: 1, Y: 2, W: 3, H: 4}
	c.commit(v, 0.77)

	got, conf, ok := c.LastViewport()
	if !ok || got != v || conf != 0.77 {
		t.Errorf("LastViewport() = (%v, %v, %v), want (%v, 0.77, true)", got, conf, ok, v)
	}
}

func TestResetTrackingClearsState(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorParams())
	c.commit(Viewport{X: 5, Y: 5, W: 10, H: 10}, 0.9)

	c.ResetTracking()

	if _, _, ok := c.LastViewport(); ok {
		t.Error("expected ResetTracking to clear the last viewport")
	}
	if c.framesSinceRevalidate != 0 {
		t.Errorf("framesSinceRevalidate = %d, want 0", c.framesSinceRevalidate)
	}
}

func TestProcessReturnsLostWhenEveryMethodFails(t *testing.T) {
	c := newTestCoordinator(DefaultCoordinatorParams())
	c.commit(Viewport{X: 10, Y: 10, W: 20, H: 20}, 0.95) // above every threshold

	query := gocv.NewMatWithSize(1, 1, gocv.MatTypeCV8UC1)
	defer query.Close()

	result := c.Process(query, query, 1, 1)

	if result.Kind != MethodLost {
		t.Fatalf("result.Kind = %v, want MethodLost", result.Kind)
	}
	if _, _, ok := c.LastViewport(); ok {
		t.Error("expected Process to clear the last viewport on total failure")
	}
}
