//go:build cgo

package mapoverlay

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestPreprocessProducesSameSizeGray(t *testing.T) {
	src := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8U)
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	Preprocess(src, &dst)

	if dst.Rows() != 64 || dst.Cols() != 64 {
		t.Errorf("Preprocess changed size: got %dx%d, want 64x64", dst.Cols(), dst.Rows())
	}
}

func TestResizeAreaScalesDimensions(t *testing.T) {
	src := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8U)
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	ResizeArea(src, &dst, 0.5)

	if dst.Rows() != 50 || dst.Cols() != 100 {
		t.Errorf("ResizeArea(0.5) = %dx%d, want 100x50", dst.Cols(), dst.Rows())
	}
}

func TestToGrayConvertsChannels(t *testing.T) {
	src := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	ToGray(src, &dst)

	if dst.Channels() != 1 {
		t.Errorf("ToGray produced %d channels, want 1", dst.Channels())
	}
}
