// Package mapoverlay implements the viewport localization and tracking
// pipeline: it locates a player's current view of a large reference map
// inside a stream of screen captures and publishes the result to any
// number of readers at an adaptively tuned frame rate.
package mapoverlay

import "time"

// Method identifies which strategy produced a MatchResult.
type Method int

const (
	// MethodFull is a cascade match run over the whole detection map.
	MethodFull Method = iota
	// MethodROI is a cascade match restricted to a predicted region.
	MethodROI
	// MethodMotion is a motion-only update from the translation tracker.
	MethodMotion
	// MethodLost means every strategy failed; tracking is reset.
	MethodLost
)

func (m Method) String() string {
	switch m {
	case MethodFull:
		return "full"
	case MethodROI:
		return "roi"
	case MethodMotion:
		return "motion_only"
	case MethodLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Viewport is a rectangle in detection-space pixels.
type Viewport struct {
	X, Y, W, H float64
}

// Center returns the rectangle's center point.
func (v Viewport) Center() (cx, cy float64) {
	return v.X + v.W/2, v.Y + v.H/2
}

// Translated returns a copy shifted by (dx, dy); size is unchanged.
func (v Viewport) Translated(dx, dy float64) Viewport {
	v.X += dx
	v.Y += dy
	return v
}

// Clip constrains the viewport to [0, W_det] x [0, H_det], per invariant 1.
func (v Viewport) Clip(wDet, hDet float64) Viewport {
	if v.X < 0 {
		v.X = 0
	}
	if v.Y < 0 {
		v.Y = 0
	}
	if v.X+v.W > wDet {
		v.X = wDet - v.W
	}
	if v.Y+v.H > hDet {
		v.Y = hDet - v.H
	}
	if v.X < 0 {
		v.X = 0
	}
	if v.Y < 0 {
		v.Y = 0
	}
	return v
}

// ScreenRect is a rectangle in source-image (screen) pixel space.
type ScreenRect struct {
	X, Y, W, H float64
}

// MatchResult is a tagged sum type: exactly one of Full, Roi, Motion, or
// Lost describes what happened on a given frame. Kind selects which.
type MatchResult struct {
	Kind Method

	Viewport   Viewport
	Confidence float64
	Inliers    int
	LevelUsed  string
	ElapsedMs  float64

	// Attempts records, for cascade runs, each level tried and its cost;
	// empty for MethodMotion and MethodLost.
	Attempts []LevelAttempt

	// Reason carries a short diagnostic tag when Kind == MethodLost.
	Reason string
}

// LevelAttempt records one cascade level's outcome during a match call.
type LevelAttempt struct {
	Level      string
	Accepted   bool
	Inliers    int
	Confidence float64
	ElapsedMs  float64
}

// Full constructs a successful full-cascade result.
func Full(v Viewport, confidence float64, inliers int, level string, elapsedMs float64, attempts []LevelAttempt) MatchResult {
	return MatchResult{Kind: MethodFull, Viewport: v, Confidence: confidence, Inliers: inliers, LevelUsed: level, ElapsedMs: elapsedMs, Attempts: attempts}
}

// Roi constructs a successful ROI-restricted cascade result.
func Roi(v Viewport, confidence float64, inliers int, level string, elapsedMs float64, attempts []LevelAttempt) MatchResult {
	return MatchResult{Kind: MethodROI, Viewport: v, Confidence: confidence, Inliers: inliers, LevelUsed: level, ElapsedMs: elapsedMs, Attempts: attempts}
}

// Motion constructs a motion-only update result.
func Motion(v Viewport, confidence float64, elapsedMs float64) MatchResult {
	return MatchResult{Kind: MethodMotion, Viewport: v, Confidence: confidence, ElapsedMs: elapsedMs}
}

// Lost constructs a total-failure result carrying a diagnostic reason.
func Lost(reason string, elapsedMs float64) MatchResult {
	return MatchResult{Kind: MethodLost, Reason: reason, ElapsedMs: elapsedMs}
}

// Ok reports whether the result represents a successful viewport update.
func (r MatchResult) Ok() bool {
	return r.Kind != MethodLost
}

// CollectibleInView is a collectible marker already transformed into
// source-image (screen) pixel space, ready for overlay rendering.
type CollectibleInView struct {
	ScreenX, ScreenY float64
	Category         string
	PayloadRef        string
}

// Published is the single immutable record exchanged across the viewport
// bus: single writer (the producer), many readers, replaced atomically
// as a whole value.
type Published struct {
	Viewport            Viewport
	CollectiblesInView  []CollectibleInView
	Timestamp           time.Time
	Confidence          float64
	Method              Method
}

// FrameSkipReason names why a captured frame produced no new publication.
type FrameSkipReason int

const (
	// SkipNone means the frame was processed normally.
	SkipNone FrameSkipReason = iota
	// SkipDuplicate means the frame digest matched the prior frame's.
	SkipDuplicate
	// SkipMapHidden means the map-visibility detector returned false.
	SkipMapHidden
	// SkipCaptureError means the injected capture function failed.
	SkipCaptureError
	// SkipOutOfOrder means the frame's capture timestamp did not advance.
	SkipOutOfOrder
)

func (r FrameSkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipDuplicate:
		return "duplicate"
	case SkipMapHidden:
		return "map_hidden"
	case SkipCaptureError:
		return "capture_error"
	case SkipOutOfOrder:
		return "out_of_order"
	default:
		return "unknown"
	}
}
