//go:build cgo

package mapoverlay

import "gocv.io/x/gocv"

// VisibilityParams tunes the map-visibility detector, which uses the
// mean and standard deviation of the whole cropped grayscale frame; no
// minimap sub-region is selected and no edge statistics are computed.
type VisibilityParams struct {
	MinStdDev float64 // below this, the region looks flat (hidden/loading)
	MinMean   float64 // below this, the region looks all-black
}

// DefaultVisibilityParams are conservative defaults suitable for a
// minimap region rendered against dark game UI chrome.
func DefaultVisibilityParams() VisibilityParams {
	return VisibilityParams{MinStdDev: 8.0, MinMean: 6.0}
}

// IsMapVisible is a pure function over simple per-region mean/variance
// statistics, per spec.md §4.G step 4: a uniformly dark or flat region
// indicates the map is hidden (e.g. by a menu) rather than genuinely
// absent of features.
func IsMapVisible(croppedGray gocv.Mat, params VisibilityParams) bool {
	if croppedGray.Empty() {
		return false
	}

	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(croppedGray, &mean, &stddev)

	meanVal := mean.GetDoubleAt(0, 0)
	stdVal := stddev.GetDoubleAt(0, 0)

	if meanVal < params.MinMean {
		return false
	}
	if stdVal < params.MinStdDev {
		return false
	}
	return true
}
