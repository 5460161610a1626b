//go:build cgo

package mapoverlay

import (
	"image"

	"gocv.io/x/gocv"
)

// PosterizeLevels is the number of intensity bands the LUT step collapses
// grayscale input to before CLAHE; fewer bands suppress capture noise at
// the cost of fine gradient detail, which AKAZE doesn't need anyway.
const PosterizeLevels = 32

// posterizeLUT is built once and reused by every Preprocess call.
var posterizeLUT = buildPosterizeLUT(PosterizeLevels)

func buildPosterizeLUT(levels int) gocv.Mat {
	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	step := 256 / levels
	for i := 0; i < 256; i++ {
		band := i / step
		if band >= levels {
			band = levels - 1
		}
		value := uint8(band*step + step/2)
		lut.SetUCharAt(0, i, value)
	}
	return lut
}

// Preprocess runs the shared pipeline applied identically to pyramid
// levels at build time and to every query frame at match time:
// posterize via LUT, then CLAHE contrast enhancement. src must already
// be single-channel grayscale; dst is overwritten in place.
func Preprocess(src gocv.Mat, dst *gocv.Mat) {
	posterized := gocv.NewMat()
	defer posterized.Close()
	gocv.LUT(src, posterizeLUT, &posterized)

	clahe := gocv.NewCLAHE()
	defer clahe.Close()
	clahe.Apply(posterized, dst)
}

// ToGray converts a BGR/RGB frame to single-channel grayscale.
func ToGray(src gocv.Mat, dst *gocv.Mat) {
	gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
}

// ResizeArea resizes src by the given scale using area interpolation,
// the same algorithm used both for detection-map downscaling and for
// building each pyramid level.
func ResizeArea(src gocv.Mat, dst *gocv.Mat, scale float64) {
	w := int(float64(src.Cols()) * scale)
	h := int(float64(src.Rows()) * scale)
	gocv.Resize(src, dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
}
