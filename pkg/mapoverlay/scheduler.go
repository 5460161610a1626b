package mapoverlay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// SchedulerParams configures the adaptive frame-rate control loop of
// spec.md §4.H.
type SchedulerParams struct {
	WindowSize int     // W: ring buffer size (samples)
	AdaptEvery int     // E: frames between adaptation steps
	MinFPS     float64 // floor on target_fps
	InitialFPS float64
}

// DefaultSchedulerParams mirrors the nominal values named in spec.md.
func DefaultSchedulerParams() SchedulerParams {
	return SchedulerParams{WindowSize: 10, AdaptEvery: 3, MinFPS: 5, InitialFPS: 5}
}

// TickFunc is one producer iteration: capture, process, match, publish.
// It must not block beyond its own processing work; the scheduler
// measures its duration to drive adaptation.
type TickFunc func()

// Scheduler drives the single producer thread, measuring per-frame cost
// and retuning the target frame rate, per spec.md §4.H. Its state is
// written only by the producer goroutine; TargetFPS, Utilization and
// FrameIndex may read it from any goroutine under the mutex.
type Scheduler struct {
	params SchedulerParams

	mu            sync.Mutex
	targetFPS     float64
	frameInterval time.Duration

	ring            *RingBuffer
	adaptCounter    int
	frameIndex      uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler constructs a scheduler with the given parameters.
func NewScheduler(params SchedulerParams) *Scheduler {
	fps := params.InitialFPS
	if fps <= 0 {
		fps = params.MinFPS
	}
	return &Scheduler{
		params:        params,
		targetFPS:     fps,
		frameInterval: fpsToInterval(fps),
		ring:          NewRingBuffer(params.WindowSize),
	}
}

func fpsToInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	return time.Duration(float64(time.Second) / fps)
}

// TargetFPS returns the current adaptive target frame rate.
func (s *Scheduler) TargetFPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetFPS
}

// Utilization returns the p90/frame_interval ratio over the recorded
// frame timings, or 0 before any frame has run.
func (s *Scheduler) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utilizationLocked()
}

func (s *Scheduler) utilizationLocked() float64 {
	if s.ring.Len() == 0 {
		return 0
	}
	p90 := p90Of(s.ring.Values())
	return p90 / s.frameInterval.Seconds()
}

func p90Of(samples []float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	return stat.Quantile(0.9, stat.Empirical, sorted, nil)
}

// FrameIndex returns the monotonic count of ticks run so far.
func (s *Scheduler) FrameIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameIndex
}

// Run starts the producer loop in a background goroutine and returns
// immediately. tick is invoked once per scheduled frame.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx, tick)
}

// Stop cancels the loop and waits for it to drain, per spec.md §4.H's
// cooperative-cancellation contract: the producer exits within one
// frame interval of the flag being set.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, tick TickFunc) {
	defer s.wg.Done()

	next := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if wait := next.Sub(time.Now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		t0 := time.Now()
		tick()
		elapsed := time.Since(t0)

		s.mu.Lock()
		s.ring.Push(elapsed.Seconds())
		s.frameIndex++
		s.adaptCounter++
		if s.adaptCounter >= s.params.AdaptEvery {
			s.adaptCounter = 0
			s.adaptLocked()
		}
		interval := s.frameInterval
		s.mu.Unlock()

		now := time.Now()
		if elapsed > interval {
			// Overran the budget: drop the would-be backlog instead of
			// bursting to catch up.
			next = now
		} else {
			next = next.Add(interval)
		}
	}
}

// adaptLocked applies the utilization-based multiplicative adaptation
// of spec.md §4.H step 5. Caller must hold s.mu.
func (s *Scheduler) adaptLocked() {
	u := s.utilizationLocked()

	switch {
	case u < 0.6:
		s.targetFPS *= 1.5
	case u < 0.75:
		s.targetFPS *= 1.2
	case u <= 0.85:
		// dead-band: no change
	default:
		s.targetFPS *= 0.7
	}

	if s.targetFPS < s.params.MinFPS {
		s.targetFPS = s.params.MinFPS
	}
	s.frameInterval = fpsToInterval(s.targetFPS)

	log.Debug().Float64("target_fps", s.targetFPS).Float64("utilization", u).Msg("scheduler adapted")
}
