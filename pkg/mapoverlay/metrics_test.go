package mapoverlay

import "testing"

func TestMetricsRecordFrameTalliesMethodCounts(t *testing.T) {
	m := NewMetrics()
	m.RecordFrame(Full(Viewport{}, 0.9, 40, "L0", 12, nil), 0.001, 0.01, 0.011)
	m.RecordFrame(Motion(Viewport{}, 0.8, 2), 0.001, 0.0, 0.001)
	m.RecordFrame(Lost("below_min_inliers", 5), 0.001, 0.005, 0.006)

	snap := m.Snapshot(10, 0.5)
	if snap.Methods.Full != 1 || snap.Methods.Motion != 1 || snap.Methods.Lost != 1 {
		t.Errorf("Methods = %+v, want one of each", snap.Methods)
	}
	if snap.FramesProcessed != 3 {
		t.Errorf("FramesProcessed = %d, want 3", snap.FramesProcessed)
	}
}

func TestMetricsPredictionRateReflectsMotionFraction(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 3; i++ {
		m.RecordFrame(Motion(Viewport{}, 0.8, 1), 0, 0, 0)
	}
	m.RecordFrame(Full(Viewport{}, 0.9, 40, "L0", 1, nil), 0, 0, 0)

	snap := m.Snapshot(10, 0.5)
	want := 0.75
	if snap.TrackerPredictionRate != want {
		t.Errorf("TrackerPredictionRate = %v, want %v", snap.TrackerPredictionRate, want)
	}
}

func TestMetricsCascadeLevelHistogramCountsAcceptedLevels(t *testing.T) {
	m := NewMetrics()
	m.RecordFrame(Full(Viewport{}, 0.9, 40, "coarse", 1, nil), 0, 0, 0)
	m.RecordFrame(Full(Viewport{}, 0.9, 40, "coarse", 1, nil), 0, 0, 0)
	m.RecordFrame(Roi(Viewport{}, 0.9, 40, "fine", 1, nil), 0, 0, 0)
	m.RecordFrame(Lost("no_query_keypoints", 1), 0, 0, 0)

	snap := m.Snapshot(10, 0.5)
	if snap.CascadeLevelHistogram["coarse"] != 2 {
		t.Errorf("coarse count = %d, want 2", snap.CascadeLevelHistogram["coarse"])
	}
	if snap.CascadeLevelHistogram["fine"] != 1 {
		t.Errorf("fine count = %d, want 1", snap.CascadeLevelHistogram["fine"])
	}
	if _, ok := snap.CascadeLevelHistogram[""]; ok {
		t.Error("lost results must not contribute a histogram entry")
	}
}

func TestMetricsRecordSkipTallies(t *testing.T) {
	m := NewMetrics()
	m.RecordSkip(SkipDuplicate)
	m.RecordSkip(SkipDuplicate)
	m.RecordSkip(SkipMapHidden)
	m.RecordSkip(SkipOutOfOrder) // not separately tallied, must not panic

	snap := m.Snapshot(10, 0.5)
	if snap.DuplicatesSkipped != 2 {
		t.Errorf("DuplicatesSkipped = %d, want 2", snap.DuplicatesSkipped)
	}
	if snap.MapHiddenSkipped != 1 {
		t.Errorf("MapHiddenSkipped = %d, want 1", snap.MapHiddenSkipped)
	}
}

func TestMetricsSnapshotPercentilesEmptyWhenNoSamples(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot(10, 0.5)
	if snap.TotalLatency != (LatencyPercentiles{}) {
		t.Errorf("TotalLatency = %+v, want zero value", snap.TotalLatency)
	}
}

func TestMetricsSnapshotCarriesSchedulerState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot(17.5, 0.82)
	if snap.TargetFPS != 17.5 || snap.Utilization != 0.82 {
		t.Errorf("snap = %+v, want TargetFPS=17.5 Utilization=0.82", snap)
	}
}
