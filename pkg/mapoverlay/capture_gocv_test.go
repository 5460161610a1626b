//go:build cgo

package mapoverlay

import "testing"

func TestVideoCaptureSourceReadBeforeOpenErrors(t *testing.T) {
	s := NewVideoCaptureSource()
	_, _, err := s.Read()
	if err == nil {
		t.Error("expected an error reading before Open")
	}
}

func TestVideoCaptureSourceCloseBeforeOpenIsNoop(t *testing.T) {
	s := NewVideoCaptureSource()
	if err := s.Close(); err != nil {
		t.Errorf("Close() before Open = %v, want nil", err)
	}
}

func TestVideoCaptureSourceOpenFileRejectsDoubleOpen(t *testing.T) {
	s := NewVideoCaptureSource()
	s.opened = true // simulate an already-open source without a real device

	if err := s.OpenFile("does-not-matter.mp4"); err == nil {
		t.Error("expected OpenFile to reject a source that is already opened")
	}
	if err := s.Open(0, 0, 0, 0); err == nil {
		t.Error("expected Open to reject a source that is already opened")
	}
}

func TestVideoCaptureSourceCaptureFuncBindsRead(t *testing.T) {
	s := NewVideoCaptureSource()
	fn := s.CaptureFunc()

	_, _, err := fn()
	if err == nil {
		t.Error("expected CaptureFunc's bound Read to fail before Open")
	}
}
