//go:build cgo

package mapoverlay

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	// fourccMJPEG is the FourCC code for the Motion JPEG codec, widely
	// supported by USB capture devices and webcams.
	fourccMJPEG = 0x47504A4D
)

// VideoCaptureSource implements the host side of the CaptureFunc
// contract (spec.md §6) over a gocv.VideoCapture device or file. It
// stands in for the platform-specific window-capture backend the
// production system would use, and is what the demo CLI runs against.
type VideoCaptureSource struct {
	mu sync.Mutex

	deviceID int
	width    int
	height   int
	fps      int

	capture *gocv.VideoCapture
	opened  bool
}

// NewVideoCaptureSource constructs an unopened source.
func NewVideoCaptureSource() *VideoCaptureSource {
	return &VideoCaptureSource{}
}

// Open initializes the capture device. It always requests the V4L2
// backend, on every platform; on Linux this avoids the GStreamer pipeline errors common with USB
// capture hardware.
func (s *VideoCaptureSource) Open(deviceID, width, height, fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("capture source already opened")
	}

	cap, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("opening capture device %d: %w", deviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("capture device %d not found or unavailable", deviceID)
	}

	cap.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	if width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(fps))
	}

	s.deviceID = deviceID
	s.width = int(cap.Get(gocv.VideoCaptureFrameWidth))
	s.height = int(cap.Get(gocv.VideoCaptureFrameHeight))
	s.fps = int(cap.Get(gocv.VideoCaptureFPS))
	s.capture = cap
	s.opened = true

	// Some capture devices need a moment to initialize; read and
	// discard the first frame.
	warmup := gocv.NewMat()
	s.capture.Read(&warmup)
	warmup.Close()

	return nil
}

// OpenFile opens a video file as a capture source, useful for replaying
// a recorded session deterministically instead of a live device.
func (s *VideoCaptureSource) OpenFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("capture source already opened")
	}

	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return fmt.Errorf("opening capture file %q: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("capture file %q could not be opened", path)
	}

	s.width = int(cap.Get(gocv.VideoCaptureFrameWidth))
	s.height = int(cap.Get(gocv.VideoCaptureFrameHeight))
	s.fps = int(cap.Get(gocv.VideoCaptureFPS))
	s.capture = cap
	s.opened = true
	return nil
}

// Read captures a single frame and its timestamp, satisfying
// CaptureFunc's signature when bound as a method value.
func (s *VideoCaptureSource) Read() (gocv.Mat, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return gocv.NewMat(), time.Time{}, fmt.Errorf("capture source not opened")
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok {
		mat.Close()
		return gocv.NewMat(), time.Time{}, fmt.Errorf("reading frame from capture source")
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), time.Time{}, fmt.Errorf("captured frame is empty")
	}

	return mat, time.Now(), nil
}

// CaptureFunc returns a CaptureFunc bound to this source's Read method,
// for wiring into FrameProcessor.Process.
func (s *VideoCaptureSource) CaptureFunc() CaptureFunc {
	return s.Read
}

// Close releases the underlying capture device or file handle.
func (s *VideoCaptureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			return fmt.Errorf("closing capture source: %w", err)
		}
	}
	return nil
}

// ActualResolution returns the negotiated capture resolution, which may
// differ from what was requested.
func (s *VideoCaptureSource) ActualResolution() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// ActualFPS returns the negotiated capture frame rate.
func (s *VideoCaptureSource) ActualFPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// EnumerateCaptureDevices attempts to detect available capture devices
// by probing device IDs in order. Best-effort; not all platforms
// support this.
func EnumerateCaptureDevices(maxDevices int) []int {
	var devices []int
	if maxDevices <= 0 {
		maxDevices = 10
	}

	for i := 0; i < maxDevices; i++ {
		cap, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		if cap.IsOpened() {
			devices = append(devices, i)
		}
		cap.Close()
	}
	return devices
}
