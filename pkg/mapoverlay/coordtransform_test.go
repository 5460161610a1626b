package mapoverlay

import (
	"math"
	"testing"
)

func calibrationFixture() []CalibrationPoint {
	// A pure scale+offset map: ref = 1000*lat + 100, ref = 2000*lng + 200.
	return []CalibrationPoint{
		{Lat: 0, Lng: 0, RefX: 100, RefY: 200},
		{Lat: 1, Lng: 0, RefX: 1100, RefY: 200},
		{Lat: 0, Lng: 1, RefX: 100, RefY: 2200},
		{Lat: 1, Lng: 1, RefX: 1100, RefY: 2200},
	}
}

func TestNewCoordTransformRejectsTooFewPoints(t *testing.T) {
	_, err := NewCoordTransform(calibrationFixture()[:2], 21617, 16785)
	if err == nil {
		t.Fatal("expected error with fewer than 3 calibration points")
	}
}

func TestNewCoordTransformRejectsDegenerate(t *testing.T) {
	points := []CalibrationPoint{
		{Lat: 0, Lng: 0, RefX: 0, RefY: 0},
		{Lat: 1, Lng: 0, RefX: 10, RefY: 0},
		{Lat: 2, Lng: 0, RefX: 20, RefY: 0},
	}
	_, err := NewCoordTransform(points, 21617, 16785)
	if err == nil {
		t.Fatal("expected error for collinear calibration points")
	}
}

func TestLatLngToRefRoundTrip(t *testing.T) {
	ct, err := NewCoordTransform(calibrationFixture(), 21617, 16785)
	if err != nil {
		t.Fatalf("NewCoordTransform: %v", err)
	}

	cases := []struct{ lat, lng float64 }{
		{0, 0}, {1, 1}, {0.5, 0.25}, {0.37, 0.91},
	}
	for _, c := range cases {
		rx, ry := ct.LatLngToRef(c.lat, c.lng)
		lat2, lng2 := ct.RefToLatLng(rx, ry)
		if math.Abs(lat2-c.lat) > 1e-6 || math.Abs(lng2-c.lng) > 1e-6 {
			t.Errorf("round trip for (%v,%v): got (%v,%v)", c.lat, c.lng, lat2, lng2)
		}
	}
}

func TestRefToDetAndBack(t *testing.T) {
	ct, err := NewCoordTransform(calibrationFixture(), 21617, 16785)
	if err != nil {
		t.Fatalf("NewCoordTransform: %v", err)
	}

	dx, dy := ct.RefToDet(1000, 2000)
	if dx != 500 || dy != 1000 {
		t.Errorf("RefToDet(1000,2000) = (%v,%v), want (500,1000)", dx, dy)
	}

	rx, ry := ct.DetToRef(dx, dy)
	if rx != 1000 || ry != 2000 {
		t.Errorf("DetToRef round trip = (%v,%v), want (1000,2000)", rx, ry)
	}
}

func TestDetExtentHalvesRefExtent(t *testing.T) {
	ct, err := NewCoordTransform(calibrationFixture(), 21617, 16785)
	if err != nil {
		t.Fatalf("NewCoordTransform: %v", err)
	}
	w, h := ct.DetExtent()
	if w != 21617*0.5 || h != 16785*0.5 {
		t.Errorf("DetExtent() = (%v,%v)", w, h)
	}
}

func TestDetViewportToScreenIsViewportRelative(t *testing.T) {
	ct, err := NewCoordTransform(calibrationFixture(), 21617, 16785)
	if err != nil {
		t.Fatalf("NewCoordTransform: %v", err)
	}
	// A viewport transformed against itself reduces to the crop
	// boundary box on the raw source frame: (0,0)-(wSrc, hSrc*crop).
	v := Viewport{X: 100, Y: 50, W: 480, H: 216}
	screen := ct.DetViewportToScreen(v, 0.8, 1920, 1080)
	if screen.X != 0 || screen.Y != 0 || screen.W != 1920 || screen.H != 864 {
		t.Errorf("DetViewportToScreen = %+v", screen)
	}
}

func TestDetPointToScreenIsViewportRelative(t *testing.T) {
	ct, err := NewCoordTransform(calibrationFixture(), 21617, 16785)
	if err != nil {
		t.Fatalf("NewCoordTransform: %v", err)
	}
	v := Viewport{X: 100, Y: 50, W: 480, H: 216}

	// The viewport's own center maps to the screen's center.
	sx, sy := ct.DetPointToScreen(100+240, 50+108, v, 0.8, 1920, 1080)
	if sx != 960 || sy != 432 {
		t.Errorf("DetPointToScreen(center) = (%v,%v), want (960,432)", sx, sy)
	}

	// The viewport's bottom-right corner maps to the bottom-right of the
	// cropped screen area.
	sx2, sy2 := ct.DetPointToScreen(100+480, 50+216, v, 0.8, 1920, 1080)
	if sx2 != 1920 || sy2 != 864 {
		t.Errorf("DetPointToScreen(bottom-right corner) = (%v,%v), want (1920,864)", sx2, sy2)
	}
}

func TestViewportClip(t *testing.T) {
	v := Viewport{X: -10, Y: -5, W: 100, H: 50}
	clipped := v.Clip(200, 100)
	if clipped.X < 0 || clipped.Y < 0 {
		t.Errorf("clipped viewport has negative origin: %+v", clipped)
	}

	v2 := Viewport{X: 150, Y: 80, W: 100, H: 50}
	clipped2 := v2.Clip(200, 100)
	if clipped2.X+clipped2.W > 200 || clipped2.Y+clipped2.H > 100 {
		t.Errorf("clipped viewport exceeds bounds: %+v", clipped2)
	}
}
