//go:build cgo

package mapoverlay

import (
	"math"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// CoordinatorParams holds the policy thresholds of spec.md §4.F.
type CoordinatorParams struct {
	TauLast     float64 // motion-only fast path requires last confidence >= this
	TauPhase    float64 // motion-only fast path requires phase-correlation response >= this
	TauRoi      float64 // ROI cascade attempted only if last confidence >= this
	ROIMargin   float64 // ROI size = last viewport size * ROIMargin
	KRevalidate int     // force a full cascade re-check every K frames

	// VelocitySmoothing feeds the ROI-centering VelocitySmoother (0 =
	// heaviest smoothing, 1 = lightest smoothing).
	VelocitySmoothing float64
}

// DefaultCoordinatorParams mirrors the nominal values named in spec.md.
func DefaultCoordinatorParams() CoordinatorParams {
	return CoordinatorParams{
		TauLast:           0.8,
		TauPhase:          0.9,
		TauRoi:            0.5,
		ROIMargin:         1.5,
		KRevalidate:       50,
		VelocitySmoothing: 0.5,
	}
}

// Coordinator owns the last accepted viewport and confidence and decides,
// frame by frame, whether to trust the motion tracker, restrict the
// cascade to a predicted ROI, fall back to a full-map cascade, or
// declare tracking lost. It is the sole writer of its own state; callers
// only ever invoke Process and ResetTracking, the same single-writer
// discipline the teacher's Tracker used for frameCount and subscribers.
type Coordinator struct {
	params   CoordinatorParams
	cascade  *CascadeMatcher
	tracker  *TranslationTracker
	velocity *VelocitySmoother
	wDet     float64
	hDet     float64

	mu                    sync.Mutex
	lastViewport          *Viewport
	lastConfidence        float64
	framesSinceRevalidate int
}

// NewCoordinator wires a cascade matcher and translation tracker against
// the fixed detection-map extent.
func NewCoordinator(cascade *CascadeMatcher, tracker *TranslationTracker, wDet, hDet float64, params CoordinatorParams) *Coordinator {
	return &Coordinator{
		params:   params,
		cascade:  cascade,
		tracker:  tracker,
		velocity: NewVelocitySmoother(params.VelocitySmoothing),
		wDet:     wDet,
		hDet:     hDet,
	}
}

// Close releases the coordinator's translation tracker.
func (c *Coordinator) Close() {
	c.tracker.Close()
}

// LastViewport reports the coordinator's current belief, or nil if
// tracking is currently lost.
func (c *Coordinator) LastViewport() (Viewport, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastViewport == nil {
		return Viewport{}, 0, false
	}
	return *c.lastViewport, c.lastConfidence, true
}

// ResetTracking clears all coordinator state and the translation
// tracker, per spec.md §6's reset_tracking operation: the next frame is
// forced through a full cascade with no motion or ROI shortcut.
func (c *Coordinator) ResetTracking() {
	c.mu.Lock()
	c.lastViewport = nil
	c.lastConfidence = 0
	c.framesSinceRevalidate = 0
	c.mu.Unlock()
	c.tracker.Reset()
	c.velocity.Reset()
}

// Process runs one frame through the four-step decision of spec.md §4.F
// and returns the tagged MatchResult. query is the preprocessed frame at
// full detection scale (for cascade matching); queryGray is fed to the
// translation tracker, which runs at its own smaller TrackerScale.
func (c *Coordinator) Process(query, queryGray gocv.Mat, queryW, queryH float64) MatchResult {
	start := time.Now()

	c.mu.Lock()
	lastV := c.lastViewport
	lastC := c.lastConfidence
	c.mu.Unlock()

	shift, trackerOk := c.tracker.Update(queryGray)

	// Feed the smoother on every tick the tracker produces a shift, not
	// just when step 2 runs, so its estimate stays current through runs
	// of the motion-only fast path.
	var sdx, sdy float64
	if trackerOk {
		sdx, sdy = c.velocity.Update(shift.Dx, shift.Dy)
	}

	revalidate := c.tickRevalidation(lastV != nil)

	// Step 1: motion-only fast path. Never taken on a forced revalidation
	// frame, per spec.md §4.F's tie-break ("re-validates with a full
	// cascade every K_revalidate frames").
	if !revalidate && lastV != nil && lastC >= c.params.TauLast && trackerOk && shift.Confidence >= c.params.TauPhase {
		newV := lastV.Translated(shift.Dx, shift.Dy).Clip(c.wDet, c.hDet)
		confidence := math.Min(lastC, shift.Confidence)
		c.commit(newV, confidence)
		return Motion(newV, confidence, elapsedMs(start))
	}

	// Step 2: ROI cascade, centered on the smoothed-velocity-predicted
	// position (or the last viewport if the tracker has no prediction).
	// The smoothed estimate, not the raw per-frame shift, centers this
	// prediction so a single noisy phase-correlation tick doesn't throw
	// the ROI off; the published viewport (step 1) still comes from the
	// tracker's own raw shift, never from this smoothed value.
	if !revalidate && lastV != nil && lastC >= c.params.TauRoi {
		predicted := *lastV
		if trackerOk {
			predicted = lastV.Translated(sdx, sdy)
		}
		roi := expandROI(predicted, *lastV, c.params.ROIMargin).Clip(c.wDet, c.hDet)

		if result, attempts := c.cascade.MatchROI(query, queryW, queryH, roi); result != nil {
			v := result.Outcome.Viewport.Clip(c.wDet, c.hDet)
			c.commit(v, result.Outcome.Confidence)
			return Roi(v, result.Outcome.Confidence, result.Outcome.Inliers, result.Level, elapsedMs(start), attempts)
		}
	}

	// Step 3: full cascade, either because the ROI step was skipped or
	// failed, or because this frame is a forced revalidation.
	if result, attempts := c.cascade.Match(query, queryW, queryH); result != nil {
		v := result.Outcome.Viewport.Clip(c.wDet, c.hDet)
		c.commit(v, result.Outcome.Confidence)
		return Full(v, result.Outcome.Confidence, result.Outcome.Inliers, result.Level, elapsedMs(start), attempts)
	}

	// Step 4: lost. Every method failed.
	c.mu.Lock()
	c.lastViewport = nil
	c.lastConfidence = 0
	c.framesSinceRevalidate = 0
	c.mu.Unlock()
	c.tracker.Reset()
	c.velocity.Reset()
	return Lost("all_methods_failed", elapsedMs(start))
}

// tickRevalidation advances the revalidation counter and reports whether
// this frame must be forced through a full cascade. It is a no-op when
// there is no prior viewport to revalidate against.
func (c *Coordinator) tickRevalidation(haveLast bool) bool {
	if !haveLast {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesSinceRevalidate++
	if c.framesSinceRevalidate >= c.params.KRevalidate {
		c.framesSinceRevalidate = 0
		return true
	}
	return false
}

func (c *Coordinator) commit(v Viewport, confidence float64) {
	c.mu.Lock()
	c.lastViewport = &v
	c.lastConfidence = confidence
	c.mu.Unlock()
}

// expandROI centers a region of sizeFrom's dimensions, scaled by margin,
// on center's midpoint.
func expandROI(center, sizeFrom Viewport, margin float64) Viewport {
	cx, cy := center.Center()
	w := sizeFrom.W * margin
	h := sizeFrom.H * margin
	return Viewport{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
