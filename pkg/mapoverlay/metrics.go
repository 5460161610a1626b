package mapoverlay

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// metricsWindow bounds how many latency samples each rolling
// percentile is computed over: a fixed-size ring buffer like the
// scheduler's, with its own size, rather than growing without bound.
const metricsWindow = 120

// MethodCounts tallies completed match attempts by outcome kind. A
// fixed-width struct, not a map, because Method is a small closed
// enum (spec.md §9: "stats dicts become a strongly typed snapshot").
type MethodCounts struct {
	Full   int64
	ROI    int64
	Motion int64
	Lost   int64
}

// LatencyPercentiles holds the P50/P90/P95 of a rolling latency window,
// in seconds.
type LatencyPercentiles struct {
	P50 float64
	P90 float64
	P95 float64
}

// MetricsSnapshot is the strongly typed read-only view returned by
// GetStats (spec.md §6, §4.I).
type MetricsSnapshot struct {
	Methods MethodCounts

	CaptureLatency LatencyPercentiles
	MatchLatency   LatencyPercentiles
	TotalLatency   LatencyPercentiles

	TargetFPS       float64
	Utilization     float64
	FramesProcessed uint64

	TrackerPredictionRate float64 // fraction of frames resolved by MethodMotion
	DuplicatesSkipped     int64
	MapHiddenSkipped      int64

	// CascadeLevelHistogram counts accepted matches per cascade level
	// name. A map here, unlike MethodCounts, because cascade levels are
	// operator-configured and open-ended, not a fixed enum.
	CascadeLevelHistogram map[string]int64
}

// Metrics aggregates counters and rolling latency windows behind a
// single mutex, following the same lock-guarded counter-bundle shape
// used for packet statistics elsewhere in this codebase's lineage.
type Metrics struct {
	mu sync.Mutex

	methods MethodCounts

	captureLatency *RingBuffer
	matchLatency   *RingBuffer
	totalLatency   *RingBuffer

	framesProcessed    uint64
	duplicatesSkipped  int64
	mapHiddenSkipped   int64
	cascadeLevelCounts map[string]int64
}

// NewMetrics constructs an empty metrics aggregator.
func NewMetrics() *Metrics {
	return &Metrics{
		captureLatency:     NewRingBuffer(metricsWindow),
		matchLatency:       NewRingBuffer(metricsWindow),
		totalLatency:       NewRingBuffer(metricsWindow),
		cascadeLevelCounts: make(map[string]int64),
	}
}

// RecordFrame folds one completed frame's outcome into the aggregator.
func (m *Metrics) RecordFrame(result MatchResult, captureSeconds, matchSeconds, totalSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch result.Kind {
	case MethodFull:
		m.methods.Full++
	case MethodROI:
		m.methods.ROI++
	case MethodMotion:
		m.methods.Motion++
	case MethodLost:
		m.methods.Lost++
	}

	if result.LevelUsed != "" && result.Ok() {
		m.cascadeLevelCounts[result.LevelUsed]++
	}

	m.captureLatency.Push(captureSeconds)
	m.matchLatency.Push(matchSeconds)
	m.totalLatency.Push(totalSeconds)
	m.framesProcessed++
}

// RecordSkip records a frame that never reached matching.
func (m *Metrics) RecordSkip(reason FrameSkipReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch reason {
	case SkipDuplicate:
		m.duplicatesSkipped++
	case SkipMapHidden:
		m.mapHiddenSkipped++
	}
}

// Snapshot returns a consistent, strongly typed copy of the current
// metrics state. targetFPS and utilization come from the scheduler,
// which owns that state independently.
func (m *Metrics) Snapshot(targetFPS, utilization float64) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := make(map[string]int64, len(m.cascadeLevelCounts))
	for k, v := range m.cascadeLevelCounts {
		hist[k] = v
	}

	var predictionRate float64
	if m.framesProcessed > 0 {
		predictionRate = float64(m.methods.Motion) / float64(m.framesProcessed)
	}

	return MetricsSnapshot{
		Methods:               m.methods,
		CaptureLatency:        percentilesOf(m.captureLatency.Values()),
		MatchLatency:          percentilesOf(m.matchLatency.Values()),
		TotalLatency:          percentilesOf(m.totalLatency.Values()),
		TargetFPS:             targetFPS,
		Utilization:           utilization,
		FramesProcessed:       m.framesProcessed,
		TrackerPredictionRate: predictionRate,
		DuplicatesSkipped:     m.duplicatesSkipped,
		MapHiddenSkipped:      m.mapHiddenSkipped,
		CascadeLevelHistogram: hist,
	}
}

func percentilesOf(samples []float64) LatencyPercentiles {
	if len(samples) == 0 {
		return LatencyPercentiles{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return LatencyPercentiles{
		P50: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90: stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P95: stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}
