//go:build cgo

package mapoverlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Common errors returned by Application, named the way the teacher
// named its Tracker lifecycle errors.
var (
	ErrApplicationClosed  = errors.New("application is closed")
	ErrApplicationRunning = errors.New("application is already running")
	ErrApplicationStopped = errors.New("application is not running")
)

// ApplicationState mirrors the teacher's TrackerState lifecycle.
type ApplicationState int

const (
	// ApplicationIdle means the application is constructed but not started.
	ApplicationIdle ApplicationState = iota
	// ApplicationRunning means the producer loop is active.
	ApplicationRunning
	// ApplicationStopped means the producer loop was stopped but resources remain open.
	ApplicationStopped
	// ApplicationClosed means the application has released its resources and cannot be reused.
	ApplicationClosed
)

func (s ApplicationState) String() string {
	switch s {
	case ApplicationIdle:
		return "idle"
	case ApplicationRunning:
		return "running"
	case ApplicationStopped:
		return "stopped"
	case ApplicationClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Application is the single value constructed at startup that threads
// the immutable reference data (transform, collectibles) together with
// the Coordinator, Scheduler, Bus, and Metrics, exposing exactly the
// external interface of spec.md §6. It replaces the teacher's pattern
// of several independently configured globals with one composed value,
// per spec.md §9's Design Notes.
type Application struct {
	capture      CaptureFunc
	frameProc    *FrameProcessor
	coordinator  *Coordinator
	scheduler    *Scheduler
	bus          *Bus
	metrics      *Metrics
	collectibles *Collectibles
	transform    *CoordTransform

	mu    sync.RWMutex
	state ApplicationState
}

// NewApplication wires the already-constructed components together.
// Every component is owned by the returned Application from this point
// on; Close releases whichever of them need releasing.
func NewApplication(capture CaptureFunc, frameProc *FrameProcessor, coordinator *Coordinator, scheduler *Scheduler, bus *Bus, metrics *Metrics, collectibles *Collectibles, transform *CoordTransform) *Application {
	return &Application{
		capture:      capture,
		frameProc:    frameProc,
		coordinator:  coordinator,
		scheduler:    scheduler,
		bus:          bus,
		metrics:      metrics,
		collectibles: collectibles,
		transform:    transform,
		state:        ApplicationIdle,
	}
}

// Start begins the producer loop. Returns immediately; the loop runs in
// a background goroutine owned by the Scheduler.
func (a *Application) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case ApplicationRunning:
		return ErrApplicationRunning
	case ApplicationClosed:
		return ErrApplicationClosed
	}

	a.state = ApplicationRunning
	a.scheduler.Run(context.Background(), a.tick)
	return nil
}

// Stop halts the producer loop, waiting for the current tick to finish.
// Resources remain open; Start may be called again.
func (a *Application) Stop() error {
	a.mu.Lock()
	if a.state != ApplicationRunning {
		a.mu.Unlock()
		return ErrApplicationStopped
	}
	a.state = ApplicationStopped
	a.mu.Unlock()

	a.scheduler.Stop()
	return nil
}

// Close stops the producer loop if running and releases every owned
// resource. The Application cannot be reused afterward.
func (a *Application) Close() error {
	a.mu.Lock()
	if a.state == ApplicationClosed {
		a.mu.Unlock()
		return ErrApplicationClosed
	}
	wasRunning := a.state == ApplicationRunning
	a.state = ApplicationClosed
	a.mu.Unlock()

	if wasRunning {
		a.scheduler.Stop()
	}

	a.frameProc.Close()
	a.coordinator.Close()
	a.bus.Close()
	return nil
}

// Subscribe returns a channel receiving every future publication.
func (a *Application) Subscribe() <-chan *Published {
	return a.bus.Subscribe()
}

// GetLatest returns the most recently published record, or nil.
func (a *Application) GetLatest() *Published {
	return a.bus.GetLatest()
}

// GetStats returns a consistent snapshot of the metrics aggregator.
func (a *Application) GetStats() MetricsSnapshot {
	return a.metrics.Snapshot(a.scheduler.TargetFPS(), a.scheduler.Utilization())
}

// ResetTracking forces the coordinator into its lost state, per
// spec.md §6: the next processed frame is driven through a full
// cascade with no motion or ROI shortcut.
func (a *Application) ResetTracking() {
	a.coordinator.ResetTracking()
}

// ReloadCollectibles atomically swaps the active collectibles list.
func (a *Application) ReloadCollectibles(list []Collectible) {
	a.collectibles.Reload(list)
}

// MatchOnce runs a single supplied frame through the frame processor
// and coordinator synchronously, for manual alignment requests
// (spec.md §6). Unlike the producer loop's tick, it never publishes to
// the bus or records metrics: it is a side request against the same
// coordinator state, not a step in the regular tracking stream. A skip
// reason (map hidden) is reported as an error, since there is no
// "try again next tick" for a one-shot call.
func (a *Application) MatchOnce(frame gocv.Mat) (MatchResult, error) {
	a.mu.RLock()
	closed := a.state == ApplicationClosed
	a.mu.RUnlock()
	if closed {
		return MatchResult{}, ErrApplicationClosed
	}

	processed, skip, err := a.frameProc.ProcessOnce(frame, time.Now())
	if err != nil {
		return MatchResult{}, err
	}
	if skip != SkipNone {
		return MatchResult{}, fmt.Errorf("match_once: %s", skip)
	}
	defer processed.Query.Close()

	result := a.coordinator.Process(processed.Query, processed.Query, processed.WidthSrc, processed.HeightSrc)
	return result, nil
}

// tick is one producer iteration, run by the Scheduler: capture, frame
// processing, matching, and bus/metrics publication (spec.md §4.H
// step 2).
func (a *Application) tick() {
	tickStart := time.Now()

	captureStart := time.Now()
	processed, skip, err := a.frameProc.Process(a.capture)
	captureElapsed := time.Since(captureStart).Seconds()

	if err != nil {
		log.Warn().Err(err).Msg("capture error")
		a.metrics.RecordSkip(SkipCaptureError)
		return
	}
	if skip != SkipNone {
		a.metrics.RecordSkip(skip)
		return
	}
	defer processed.Query.Close()

	matchStart := time.Now()
	result := a.coordinator.Process(processed.Query, processed.Query, processed.WidthSrc, processed.HeightSrc)
	matchElapsed := time.Since(matchStart).Seconds()

	totalElapsed := time.Since(tickStart).Seconds()
	a.metrics.RecordFrame(result, captureElapsed, matchElapsed, totalElapsed)

	if !result.Ok() {
		log.Debug().Str("reason", result.Reason).Msg("tracking lost, keeping last published viewport")
		return
	}

	// processed.HeightSrc is already the cropped frame height (the
	// Frame Processor crops before matching), so pass crop=1 here to
	// avoid applying it twice.
	a.bus.Publish(&Published{
		Viewport:           result.Viewport,
		CollectiblesInView: a.collectibles.InView(result.Viewport, a.transform, 1.0, processed.WidthSrc, processed.HeightSrc),
		Timestamp:          processed.Timestamp,
		Confidence:         result.Confidence,
		Method:             result.Kind,
	})
}
