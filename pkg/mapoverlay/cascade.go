//go:build cgo

package mapoverlay

import (
	"time"

	"gocv.io/x/gocv"
)

// CascadeLevel is one scale level of the cascade, sorted by increasing
// Scale when held in a CascadeMatcher. The final level is conventionally
// a fallback with ConfThreshold 0, unconditionally accepting any match.
type CascadeLevel struct {
	Scale         float64
	Name          string
	Budget        int
	ConfThreshold float64
	MinInliers    int
}

// CascadeMatcher coordinates the Simple Matcher over an ordered list of
// scale levels with early acceptance, per spec.md §4.D.
type CascadeMatcher struct {
	matcher *SimpleMatcher
	pyramid *FeaturePyramid
	levels  []CascadeLevel
}

// NewCascadeMatcher pairs a Simple Matcher with a feature pyramid and an
// ordered list of levels; levels must be sorted by increasing scale and
// name-match pyramid levels one-to-one.
func NewCascadeMatcher(matcher *SimpleMatcher, pyramid *FeaturePyramid, levels []CascadeLevel) *CascadeMatcher {
	return &CascadeMatcher{matcher: matcher, pyramid: pyramid, levels: levels}
}

// CascadeResult is what Match/MatchROI returns on success, annotated
// with the accepted level and every level attempted.
type CascadeResult struct {
	Outcome  MatchOutcome
	Level    string
	Attempts []LevelAttempt
}

// Match runs the cascade over the whole detection map.
func (c *CascadeMatcher) Match(query gocv.Mat, queryW, queryH float64) (*CascadeResult, []LevelAttempt) {
	return c.run(query, queryW, queryH, nil)
}

// MatchROI runs the cascade restricted to the given detection-space ROI.
func (c *CascadeMatcher) MatchROI(query gocv.Mat, queryW, queryH float64, roi Viewport) (*CascadeResult, []LevelAttempt) {
	return c.run(query, queryW, queryH, &roi)
}

func (c *CascadeMatcher) run(query gocv.Mat, queryW, queryH float64, roi *Viewport) (*CascadeResult, []LevelAttempt) {
	var attempts []LevelAttempt

	for _, level := range c.levels {
		pyramidLevel := c.findPyramidLevel(level.Name)
		if pyramidLevel == nil {
			continue
		}

		start := time.Now()
		outcome, _ := c.matcher.Match(query, queryW, queryH, pyramidLevel, roi)
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0

		if outcome == nil {
			attempts = append(attempts, LevelAttempt{Level: level.Name, Accepted: false, ElapsedMs: elapsed})
			continue
		}

		accepted := outcome.Confidence >= level.ConfThreshold && outcome.Inliers >= level.MinInliers
		attempts = append(attempts, LevelAttempt{
			Level:      level.Name,
			Accepted:   accepted,
			Inliers:    outcome.Inliers,
			Confidence: outcome.Confidence,
			ElapsedMs:  elapsed,
		})

		// Per spec.md §4.D: accept the first level clearing its
		// threshold and stop; later levels are not run (tie-break).
		if accepted {
			return &CascadeResult{Outcome: *outcome, Level: level.Name, Attempts: attempts}, attempts
		}
	}

	return nil, attempts
}

func (c *CascadeMatcher) findPyramidLevel(name string) *PyramidLevel {
	for _, l := range c.pyramid.Levels {
		if l.Spec.Name == name {
			return l
		}
	}
	return nil
}
