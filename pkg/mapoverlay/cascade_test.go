//go:build cgo

package mapoverlay

import "testing"

func TestCascadeLevelsDefineFallback(t *testing.T) {
	levels := []CascadeLevel{
		{Scale: 0.125, Name: "coarse", ConfThreshold: 0.9, MinInliers: 15},
		{Scale: 0.25, Name: "mid", ConfThreshold: 0.7, MinInliers: 10},
		{Scale: 0.5, Name: "fine", ConfThreshold: 0, MinInliers: 0},
	}
	last := levels[len(levels)-1]
	if last.ConfThreshold != 0 || last.MinInliers != 0 {
		t.Error("final cascade level must be an unconditional fallback")
	}
}

func TestCascadeMatcherSkipsUnknownLevelNames(t *testing.T) {
	pyramid := &FeaturePyramid{RefHash: "x"}
	c := NewCascadeMatcher(nil, pyramid, []CascadeLevel{{Name: "missing"}})
	if got := c.findPyramidLevel("missing"); got != nil {
		t.Error("expected no pyramid level to be found when pyramid has none")
	}
}
