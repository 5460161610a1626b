package mapoverlay

import (
	"fmt"
	"math"
)

// DetectionScale is the fixed ratio between detection space and
// reference-map space: 1 detection pixel = 2 reference pixels.
const DetectionScale = 0.5

// CalibrationPoint ties a geographic coordinate to a pixel position on
// the reference map, used to fit the lat/lng affine transform.
type CalibrationPoint struct {
	Lat, Lng float64
	RefX, RefY float64
}

// CoordTransform is an immutable bijection between geographic lat/lng,
// reference-map pixels, and detection-space pixels. Built once from
// calibration control points; every method is pure, total, and
// allocation-free.
type CoordTransform struct {
	// Forward: ref = A*[lat,lng,1]. Inverse: latlng = B*[refx,refy,1].
	fwdA, fwdB, fwdC float64 // refX = fwdA*lat + fwdB*lng + fwdC
	fwdD, fwdE, fwdF float64 // refY = fwdD*lat + fwdE*lng + fwdF

	invA, invB, invC float64 // lat = invA*refX + invB*refY + invC
	invD, invE, invF float64 // lng = invD*refX + invE*refY + invF

	wRef, hRef float64
	wDet, hDet float64
}

// NewCoordTransform fits an affine transform through the given
// calibration points (at least 3, not collinear) and fixes the
// reference-map extent used for detection-map sizing.
func NewCoordTransform(points []CalibrationPoint, wRef, hRef float64) (*CoordTransform, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("coordtransform: need at least 3 calibration points, got %d", len(points))
	}

	fwdA, fwdB, fwdC, fwdD, fwdE, fwdF, err := fitAffine(points, func(p CalibrationPoint) (float64, float64, float64, float64) {
		return p.Lat, p.Lng, p.RefX, p.RefY
	})
	if err != nil {
		return nil, fmt.Errorf("coordtransform: fitting forward transform: %w", err)
	}

	invA, invB, invC, invD, invE, invF, err := fitAffine(points, func(p CalibrationPoint) (float64, float64, float64, float64) {
		return p.RefX, p.RefY, p.Lat, p.Lng
	})
	if err != nil {
		return nil, fmt.Errorf("coordtransform: fitting inverse transform: %w", err)
	}

	return &CoordTransform{
		fwdA: fwdA, fwdB: fwdB, fwdC: fwdC,
		fwdD: fwdD, fwdE: fwdE, fwdF: fwdF,
		invA: invA, invB: invB, invC: invC,
		invD: invD, invE: invE, invF: invF,
		wRef: wRef, hRef: hRef,
		wDet: wRef * DetectionScale, hDet: hRef * DetectionScale,
	}, nil
}

// fitAffine solves the least-squares affine map (u,v) -> (p,q) through
// the given points via the 3x3 normal equations, shared by both the
// lat/lng->ref and ref->lat/lng directions.
func fitAffine(points []CalibrationPoint, extract func(CalibrationPoint) (u, v, p, q float64)) (a, b, c, d, e, f float64, err error) {
	var sUU, sUV, sVV, sU, sV, n float64
	var sUP, sVP, sP, sUQ, sVQ, sQ float64

	for _, pt := range points {
		u, v, p, q := extract(pt)
		sUU += u * u
		sUV += u * v
		sVV += v * v
		sU += u
		sV += v
		n++
		sUP += u * p
		sVP += v * p
		sP += p
		sUQ += u * q
		sVQ += v * q
		sQ += q
	}

	// Normal-equations matrix, shared by both right-hand sides:
	//   [sUU sUV sU] [a]   [sUP]
	//   [sUV sVV sV] [b] = [sVP]
	//   [sU  sV  n ] [c]   [sP ]
	det := sUU*(sVV*n-sV*sV) - sUV*(sUV*n-sV*sU) + sU*(sUV*sV-sVV*sU)
	if math.Abs(det) < 1e-9 {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("calibration points are degenerate (collinear or too few distinct)")
	}

	solve := func(r1, r2, r3 float64) (x, y, z float64) {
		// Cramer's rule against the shared 3x3 matrix above.
		dx := (r1*(sVV*n-sV*sV) - sUV*(r2*n-sV*r3) + sU*(r2*sV-sVV*r3))
		dy := (sUU*(r2*n-sV*r3) - r1*(sUV*n-sV*sU) + sU*(sUV*r3-r2*sU))
		dz := (sUU*(sVV*r3-r2*sV) - sUV*(sUV*r3-r2*sU) + r1*(sUV*sV-sVV*sU))
		return dx / det, dy / det, dz / det
	}

	a, b, c = solve(sUP, sVP, sP)
	d, e, f = solve(sUQ, sVQ, sQ)
	return a, b, c, d, e, f, nil
}

// LatLngToRef maps a geographic coordinate to reference-map pixels.
func (t *CoordTransform) LatLngToRef(lat, lng float64) (rx, ry float64) {
	return t.fwdA*lat + t.fwdB*lng + t.fwdC, t.fwdD*lat + t.fwdE*lng + t.fwdF
}

// RefToLatLng maps reference-map pixels back to a geographic coordinate.
func (t *CoordTransform) RefToLatLng(rx, ry float64) (lat, lng float64) {
	return t.invA*rx + t.invB*ry + t.invC, t.invD*rx + t.invE*ry + t.invF
}

// RefToDet maps reference-map pixels to detection-space pixels.
func (t *CoordTransform) RefToDet(rx, ry float64) (dx, dy float64) {
	return rx * DetectionScale, ry * DetectionScale
}

// DetToRef maps detection-space pixels back to reference-map pixels.
func (t *CoordTransform) DetToRef(dx, dy float64) (rx, ry float64) {
	return dx / DetectionScale, dy / DetectionScale
}

// DetPointToScreen maps a detection-space point into source-image
// pixels, used to place collectible markers over the live capture. v is
// the currently matched viewport: by construction (matcher.go's Match)
// v is the image of the query frame's full extent under the solved
// similarity transform, so a point's fractional position within v is
// its fractional position within the query frame, which in turn maps
// one-to-one onto the top `crop` fraction of the source image (the crop
// only discards the bottom band, so no y-offset is needed to undo it).
func (t *CoordTransform) DetPointToScreen(dx, dy float64, v Viewport, crop, wSrc, hSrc float64) (sx, sy float64) {
	if v.W == 0 || v.H == 0 {
		return 0, 0
	}
	fx := (dx - v.X) / v.W
	fy := (dy - v.Y) / v.H
	return fx * wSrc, fy * hSrc * crop
}

// DetViewportToScreen scales a detection-space rectangle into
// source-image pixels relative to the matched viewport v, undoing the
// top-fraction crop. Called with v itself (the common case, e.g. the
// debug preview overlay), it reduces to the crop boundary box
// {0, 0, wSrc, hSrc*crop} on the raw captured frame.
func (t *CoordTransform) DetViewportToScreen(v Viewport, crop float64, wSrc, hSrc float64) ScreenRect {
	x0, y0 := t.DetPointToScreen(v.X, v.Y, v, crop, wSrc, hSrc)
	x1, y1 := t.DetPointToScreen(v.X+v.W, v.Y+v.H, v, crop, wSrc, hSrc)
	return ScreenRect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// DetExtent returns the size of the detection map in pixels.
func (t *CoordTransform) DetExtent() (w, h float64) {
	return t.wDet, t.hDet
}

// RefExtent returns the size of the reference map in pixels.
func (t *CoordTransform) RefExtent() (w, h float64) {
	return t.wRef, t.hRef
}
