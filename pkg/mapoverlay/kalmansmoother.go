package mapoverlay

import "sync"

// kalman1D is a scalar constant-velocity-free Kalman filter: it tracks
// one quantity with no motion model beyond "it drifts by q per step",
// trading responsiveness for smoothness via the q/r noise ratio.
type kalman1D struct {
	x, p, q, r  float64
	initialized bool
}

func newKalman1D(smoothingFactor float64) *kalman1D {
	q := 0.1
	r := 1.0 - smoothingFactor*0.9 + 0.1
	return &kalman1D{p: 1.0, q: q, r: r}
}

func (k *kalman1D) update(measurement float64) float64 {
	if !k.initialized {
		k.x = measurement
		k.initialized = true
		return measurement
	}

	pPred := k.p + k.q
	gain := pPred / (pPred + k.r)
	k.x = k.x + gain*(measurement-k.x)
	k.p = (1 - gain) * pPred
	return k.x
}

func (k *kalman1D) reset() {
	k.x = 0
	k.p = 1.0
	k.initialized = false
}

// VelocitySmoother produces a smoothed (dx, dy) velocity estimate from
// the translation tracker's raw per-frame shifts. The Matching
// Coordinator feeds it every tracked shift and uses the smoothed
// estimate to center the ROI prediction in step 2; the published
// viewport itself always comes from V_last plus the tracker's own raw
// reported shift (step 1), never from the smoothed velocity directly.
type VelocitySmoother struct {
	mu     sync.Mutex
	dx, dy *kalman1D
}

// NewVelocitySmoother constructs a smoother with the given smoothing
// factor (0 = heaviest smoothing, 1 = lightest smoothing, matching the
// underlying filter's convention; even 1 still smooths).
func NewVelocitySmoother(smoothingFactor float64) *VelocitySmoother {
	return &VelocitySmoother{
		dx: newKalman1D(smoothingFactor),
		dy: newKalman1D(smoothingFactor),
	}
}

// Update feeds a new raw shift and returns the smoothed estimate.
func (s *VelocitySmoother) Update(dx, dy float64) (sdx, sdy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dx.update(dx), s.dy.update(dy)
}

// Reset clears the smoother's state, e.g. when the coordinator declares
// tracking lost.
func (s *VelocitySmoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dx.reset()
	s.dy.reset()
}
