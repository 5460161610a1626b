//go:build cgo

package mapoverlay

import (
	"math"
	"math/rand"
	"testing"

	"gocv.io/x/gocv"
)

func TestSpatialDistributionFilterCapsPerCell(t *testing.T) {
	var kps []gocv.KeyPoint
	for i := 0; i < 20; i++ {
		kps = append(kps, gocv.KeyPoint{X: 5, Y: 5, Response: float32(i)})
	}
	idx := spatialDistributionFilter(kps, 100, 100, 1, 3)
	if len(idx) != 3 {
		t.Fatalf("expected 3 survivors in a single cell with budget 3, got %d", len(idx))
	}
	// Strongest (highest Response) keypoints must survive.
	survivorResponses := map[float32]bool{}
	for _, i := range idx {
		survivorResponses[kps[i].Response] = true
	}
	if !survivorResponses[19] || !survivorResponses[18] || !survivorResponses[17] {
		t.Errorf("expected top-3 responses to survive, got indices %v", idx)
	}
}

func TestSpatialDistributionFilterRespectsGlobalBudget(t *testing.T) {
	var kps []gocv.KeyPoint
	for i := 0; i < 10; i++ {
		kps = append(kps, gocv.KeyPoint{X: float32(i) * 10, Y: float32(i) * 10, Response: 1})
	}
	idx := spatialDistributionFilter(kps, 100, 100, 10, 4)
	if len(idx) > 4 {
		t.Errorf("expected global budget of 4 to be respected, got %d", len(idx))
	}
}

func TestRansacSimilarityRecoversKnownTransform(t *testing.T) {
	const wantScale = 0.5
	const wantTx, wantTy = 100.0, 50.0

	rng := rand.New(rand.NewSource(42))
	var corr []correspondence
	for i := 0; i < 30; i++ {
		qx, qy := float64(i*7%97), float64(i*13%89)
		corr = append(corr, correspondence{
			qx: qx, qy: qy,
			rx: wantScale*qx + wantTx,
			ry: wantScale*qy + wantTy,
		})
	}
	// Add a few outliers.
	corr = append(corr, correspondence{qx: 5, qy: 5, rx: 9000, ry: 9000})
	corr = append(corr, correspondence{qx: 10, qy: 10, rx: -500, ry: 200})

	scale, tx, ty, inliers := ransacSimilarity(corr, 2.0, 200, rng)

	if math.Abs(scale-wantScale) > 0.01 {
		t.Errorf("scale = %v, want ~%v", scale, wantScale)
	}
	if math.Abs(tx-wantTx) > 1 || math.Abs(ty-wantTy) > 1 {
		t.Errorf("translation = (%v,%v), want ~(%v,%v)", tx, ty, wantTx, wantTy)
	}
	if len(inliers) < 28 {
		t.Errorf("expected at least 28 inliers out of 30 true correspondences, got %d", len(inliers))
	}
}

func TestRansacSimilarityDegenerateReturnsNoInliers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scale, _, _, inliers := ransacSimilarity(nil, 5.0, 100, rng)
	if inliers != nil {
		t.Errorf("expected nil inliers for empty input, got %v", inliers)
	}
	if scale != 0 {
		t.Errorf("expected zero scale for empty input, got %v", scale)
	}
}

func TestAllIndices(t *testing.T) {
	idx := allIndices(5)
	if len(idx) != 5 {
		t.Fatalf("allIndices(5) returned %d elements", len(idx))
	}
	for i, v := range idx {
		if v != i {
			t.Errorf("allIndices[%d] = %d, want %d", i, v, i)
		}
	}
}
