//go:build cgo

package mapoverlay

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// previewFrame bundles a captured frame with the overlay data needed to
// draw the current viewport and collectibles on top of it.
type previewFrame struct {
	frame      gocv.Mat
	viewport   ScreenRect
	haveResult bool
	method     Method
	confidence float64
	markers    []CollectibleInView
}

// PreviewWindow is a debug window showing the live capture with the
// tracker's current viewport and in-view collectibles drawn on top.
// OpenCV UI functions must run on a dedicated OS thread on Linux/X11,
// so the window owns its own goroutine exactly as the teacher's camera
// preview did; only what gets drawn has changed.
type PreviewWindow struct {
	window   *gocv.Window
	frameCh  chan previewFrame
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	initDone chan struct{}
}

// NewPreviewWindow creates a preview window with the given title. The
// underlying gocv.Window is created on its own locked OS thread.
func NewPreviewWindow(title string) *PreviewWindow {
	p := &PreviewWindow{
		frameCh:  make(chan previewFrame, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}

	go p.previewLoop(title)
	<-p.initDone

	return p
}

func (p *PreviewWindow) previewLoop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.initDone)

	for {
		select {
		case pf := <-p.frameCh:
			drawOverlay(pf)
			p.window.IMShow(pf.frame)
			p.window.WaitKey(1)
			pf.frame.Close()

		case <-p.closeCh:
			if p.window != nil {
				p.window.Close()
			}
			close(p.doneCh)
			return
		}
	}
}

// Show displays frame with the current viewport and collectible
// markers drawn on top, in source-image (screen) pixel space. The
// frame is cloned internally; the caller keeps ownership of the
// original. When haveResult is false (tracking has not produced a
// result yet), only the raw frame is shown.
func (p *PreviewWindow) Show(frame gocv.Mat, viewport ScreenRect, markers []CollectibleInView, method Method, confidence float64, haveResult bool) {
	if frame.Empty() {
		return
	}

	pf := previewFrame{
		frame:      frame.Clone(),
		viewport:   viewport,
		haveResult: haveResult,
		method:     method,
		confidence: confidence,
		markers:    markers,
	}

	select {
	case p.frameCh <- pf:
	default:
		pf.frame.Close() // drop frame if preview is slow
	}
}

// Close closes the preview window and releases its resources.
func (p *PreviewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}

var (
	viewportColor = color.RGBA{R: 0, G: 220, B: 0, A: 0}
	markerColor   = color.RGBA{R: 220, G: 180, B: 0, A: 0}
	lostTextColor = color.RGBA{R: 220, G: 40, B: 40, A: 0}
)

func drawOverlay(pf previewFrame) {
	if !pf.haveResult {
		return
	}

	if pf.method == MethodLost {
		gocv.PutText(&pf.frame, "LOST", image.Pt(10, 30), gocv.FontHersheySimplex, 1.0, lostTextColor, 2)
		return
	}

	rect := image.Rect(int(pf.viewport.X), int(pf.viewport.Y), int(pf.viewport.X+pf.viewport.W), int(pf.viewport.Y+pf.viewport.H))
	gocv.Rectangle(&pf.frame, rect, viewportColor, 2)

	label := fmt.Sprintf("%s %.2f", pf.method.String(), pf.confidence)
	gocv.PutText(&pf.frame, label, image.Pt(rect.Min.X, rect.Min.Y-8), gocv.FontHersheySimplex, 0.6, viewportColor, 1)

	for _, m := range pf.markers {
		gocv.Circle(&pf.frame, image.Pt(int(m.ScreenX), int(m.ScreenY)), 5, markerColor, -1)
	}
}
