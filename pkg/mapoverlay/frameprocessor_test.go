//go:build cgo

package mapoverlay

import (
	"errors"
	"image"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func checkerboardFrame(t0 time.Time) (gocv.Mat, time.Time, error) {
	mat := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	bright := gocv.NewScalar(220, 220, 220, 0)
	for i := 0; i < 100; i += 10 {
		for j := 0; j < 100; j += 10 {
			if (i/10+j/10)%2 == 0 {
				tile := mat.Region(image.Rect(j, i, j+10, i+10))
				tile.SetTo(bright)
				tile.Close()
			}
		}
	}
	return mat, t0, nil
}

func TestFrameProcessorRejectsOutOfOrderTimestamps(t *testing.T) {
	fp := NewFrameProcessor(FrameProcessorParams{Crop: 0.8, Visibility: DefaultVisibilityParams()})
	defer fp.Close()

	now := time.Now()
	_, skip, err := fp.Process(func() (gocv.Mat, time.Time, error) { return checkerboardFrame(now) })
	if err != nil || skip != SkipNone {
		t.Fatalf("first frame: skip=%v err=%v", skip, err)
	}

	earlier := now.Add(-time.Second)
	_, skip, err = fp.Process(func() (gocv.Mat, time.Time, error) { return checkerboardFrame(earlier) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skip != SkipOutOfOrder {
		t.Errorf("expected SkipOutOfOrder, got %v", skip)
	}
}

func TestFrameProcessorDetectsDuplicate(t *testing.T) {
	fp := NewFrameProcessor(FrameProcessorParams{Crop: 0.8, Visibility: DefaultVisibilityParams()})
	defer fp.Close()

	now := time.Now()
	result, skip, err := fp.Process(func() (gocv.Mat, time.Time, error) { return checkerboardFrame(now) })
	if err != nil || skip != SkipNone {
		t.Fatalf("first frame: skip=%v err=%v", skip, err)
	}
	result.Query.Close()

	_, skip, err = fp.Process(func() (gocv.Mat, time.Time, error) { return checkerboardFrame(now.Add(time.Millisecond)) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skip != SkipDuplicate {
		t.Errorf("expected SkipDuplicate for identical content, got %v", skip)
	}
}

func TestFrameProcessorPropagatesCaptureError(t *testing.T) {
	fp := NewFrameProcessor(FrameProcessorParams{Crop: 0.8, Visibility: DefaultVisibilityParams()})
	defer fp.Close()

	wantErr := errors.New("window not ready")
	_, skip, err := fp.Process(func() (gocv.Mat, time.Time, error) { return gocv.NewMat(), time.Time{}, wantErr })
	if skip != SkipCaptureError {
		t.Errorf("expected SkipCaptureError, got %v", skip)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected capture error to propagate, got %v", err)
	}
}

func TestFrameProcessorOnceSkipsDuplicateCheck(t *testing.T) {
	fp := NewFrameProcessor(FrameProcessorParams{Crop: 0.8, Visibility: DefaultVisibilityParams()})
	defer fp.Close()

	frame, ts, _ := checkerboardFrame(time.Now())
	defer frame.Close()

	first, skip, err := fp.ProcessOnce(frame, ts)
	if err != nil || skip != SkipNone {
		t.Fatalf("first call: skip=%v err=%v", skip, err)
	}
	first.Query.Close()

	// Identical content, identical timestamp: ProcessOnce must still
	// succeed, unlike the streaming Process path.
	second, skip, err := fp.ProcessOnce(frame, ts)
	if err != nil || skip != SkipNone {
		t.Fatalf("second call: skip=%v err=%v", skip, err)
	}
	second.Query.Close()
}

func TestFrameProcessorRejectsHiddenMap(t *testing.T) {
	fp := NewFrameProcessor(FrameProcessorParams{Crop: 0.8, Visibility: DefaultVisibilityParams()})
	defer fp.Close()

	now := time.Now()
	black := func() (gocv.Mat, time.Time, error) {
		return gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3), now, nil
	}
	_, skip, err := fp.Process(black)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skip != SkipMapHidden {
		t.Errorf("expected SkipMapHidden for all-black frame, got %v", skip)
	}
}
