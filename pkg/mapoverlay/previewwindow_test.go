//go:build cgo

package mapoverlay

import (
	"runtime"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func TestNewPreviewWindow(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Skipping GUI test on macOS: NSWindow requires main thread")
	}
	preview := NewPreviewWindow("Test Window")
	if preview == nil {
		t.Fatal("NewPreviewWindow returned nil")
	}
	defer preview.Close()
}

func TestPreviewWindowShowWithResult(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Skipping GUI test on macOS: NSWindow requires main thread")
	}
	preview := NewPreviewWindow("Test Window")
	defer preview.Close()

	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()

	viewport := ScreenRect{X: 10, Y: 10, W: 100, H: 80}
	markers := []CollectibleInView{{ScreenX: 20, ScreenY: 20, Category: "coin"}}

	// Must not panic.
	preview.Show(mat, viewport, markers, MethodFull, 0.9, true)

	time.Sleep(50 * time.Millisecond)
}

func TestPreviewWindowShowWithoutResult(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Skipping GUI test on macOS: NSWindow requires main thread")
	}
	preview := NewPreviewWindow("Test Window")
	defer preview.Close()

	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()

	preview.Show(mat, ScreenRect{}, nil, MethodLost, 0, false)
	time.Sleep(20 * time.Millisecond)
}

func TestPreviewWindowClose(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Skipping GUI test on macOS: NSWindow requires main thread")
	}
	preview := NewPreviewWindow("Test Window")

	if err := preview.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
	if err := preview.Close(); err != nil {
		t.Errorf("second Close() returned error: %v", err)
	}
}

func TestPreviewWindowShowMultiple(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("Skipping GUI test on macOS: NSWindow requires main thread")
	}
	preview := NewPreviewWindow("Test Window")
	defer preview.Close()

	for i := 0; i < 5; i++ {
		mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
		preview.Show(mat, ScreenRect{X: float64(i)}, nil, MethodMotion, 0.85, true)
		mat.Close()
		time.Sleep(10 * time.Millisecond)
	}
}
