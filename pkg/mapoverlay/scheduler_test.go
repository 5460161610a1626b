package mapoverlay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestP90OfSortedPercentile(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p90 := p90Of(samples)
	if p90 < 8.5 || p90 > 10 {
		t.Errorf("p90Of(1..10) = %v, expected close to 9-10", p90)
	}
}

func TestSchedulerAdaptRampsUpAtLowUtilization(t *testing.T) {
	s := NewScheduler(SchedulerParams{WindowSize: 10, AdaptEvery: 3, MinFPS: 5, InitialFPS: 10})
	for i := 0; i < 5; i++ {
		s.ring.Push(0.001) // far below frame_interval of 100ms
	}
	before := s.targetFPS
	s.mu.Lock()
	s.adaptLocked()
	s.mu.Unlock()
	if s.targetFPS <= before {
		t.Errorf("expected targetFPS to increase from %v, got %v", before, s.targetFPS)
	}
}

func TestSchedulerAdaptDeadBandHoldsSteady(t *testing.T) {
	s := NewScheduler(SchedulerParams{WindowSize: 10, AdaptEvery: 3, MinFPS: 5, InitialFPS: 10})
	interval := s.frameInterval.Seconds()
	for i := 0; i < 10; i++ {
		s.ring.Push(0.80 * interval) // utilization ~0.80, inside [0.75,0.85]
	}
	before := s.targetFPS
	s.mu.Lock()
	s.adaptLocked()
	s.mu.Unlock()
	if s.targetFPS != before {
		t.Errorf("expected dead-band to hold target_fps at %v, got %v", before, s.targetFPS)
	}
}

func TestSchedulerAdaptClampsToMinFPS(t *testing.T) {
	s := NewScheduler(SchedulerParams{WindowSize: 10, AdaptEvery: 3, MinFPS: 5, InitialFPS: 5})
	interval := s.frameInterval.Seconds()
	for i := 0; i < 10; i++ {
		s.ring.Push(2 * interval) // heavily overrunning: utilization > 0.85
	}
	s.mu.Lock()
	s.adaptLocked()
	s.mu.Unlock()
	if s.targetFPS < s.params.MinFPS {
		t.Errorf("targetFPS %v fell below MinFPS %v", s.targetFPS, s.params.MinFPS)
	}
}

func TestSchedulerRunInvokesTickAndStops(t *testing.T) {
	s := NewScheduler(SchedulerParams{WindowSize: 5, AdaptEvery: 100, MinFPS: 5, InitialFPS: 100})

	var count int64
	s.Run(context.Background(), func() {
		atomic.AddInt64(&count, 1)
	})

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt64(&count) == 0 {
		t.Error("expected at least one tick to run before Stop")
	}
}

func TestSchedulerStopIsIdempotentSafe(t *testing.T) {
	s := NewScheduler(DefaultSchedulerParams())
	s.Run(context.Background(), func() {})
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	// Calling Stop again must not panic or deadlock; cancel is already set.
	s.Stop()
}
