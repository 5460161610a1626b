//go:build cgo

package transport

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/collectoroverlay/mapoverlay/pkg/mapoverlay"
)

// ViewportDTO is the wire representation of a detection-space rectangle.
type ViewportDTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CollectibleDTO is one collectible marker already in source-image
// pixel space, per spec.md §6's wire format.
type CollectibleDTO struct {
	ScreenX    float64 `json:"screen_x"`
	ScreenY    float64 `json:"screen_y"`
	Category   string  `json:"category"`
	PayloadRef string  `json:"payload_ref"`
}

// PublishedDTO mirrors mapoverlay.Published for JSON consumers.
type PublishedDTO struct {
	Viewport            ViewportDTO      `json:"viewport"`
	Confidence          float64          `json:"confidence"`
	Method              string           `json:"method"`
	TimestampMs         int64            `json:"timestamp_ms"`
	CollectiblesInView  []CollectibleDTO `json:"collectibles_in_view"`
}

func toPublishedDTO(p *mapoverlay.Published) PublishedDTO {
	markers := make([]CollectibleDTO, len(p.CollectiblesInView))
	for i, m := range p.CollectiblesInView {
		markers[i] = CollectibleDTO{
			ScreenX:    m.ScreenX,
			ScreenY:    m.ScreenY,
			Category:   m.Category,
			PayloadRef: m.PayloadRef,
		}
	}
	return PublishedDTO{
		Viewport:           ViewportDTO{X: p.Viewport.X, Y: p.Viewport.Y, W: p.Viewport.W, H: p.Viewport.H},
		Confidence:         p.Confidence,
		Method:             p.Method.String(),
		TimestampMs:        p.Timestamp.UnixMilli(),
		CollectiblesInView: markers,
	}
}

// MethodCountsDTO mirrors mapoverlay.MethodCounts.
type MethodCountsDTO struct {
	Full   int64 `json:"full"`
	ROI    int64 `json:"roi"`
	Motion int64 `json:"motion"`
	Lost   int64 `json:"lost"`
}

// LatencyPercentilesDTO mirrors mapoverlay.LatencyPercentiles.
type LatencyPercentilesDTO struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// MetricsSnapshotDTO mirrors mapoverlay.MetricsSnapshot.
type MetricsSnapshotDTO struct {
	Methods                MethodCountsDTO       `json:"methods"`
	CaptureLatencyMs       LatencyPercentilesDTO `json:"capture_latency_ms"`
	MatchLatencyMs         LatencyPercentilesDTO `json:"match_latency_ms"`
	TotalLatencyMs         LatencyPercentilesDTO `json:"total_latency_ms"`
	TargetFPS              float64               `json:"target_fps"`
	Utilization            float64               `json:"utilization"`
	FramesProcessed        uint64                `json:"frames_processed"`
	TrackerPredictionRate  float64               `json:"tracker_prediction_rate"`
	DuplicatesSkipped      int64                 `json:"duplicates_skipped"`
	MapHiddenSkipped       int64                 `json:"map_hidden_skipped"`
	CascadeLevelHistogram  map[string]int64      `json:"cascade_level_histogram"`
}

func toMetricsDTO(s mapoverlay.MetricsSnapshot) MetricsSnapshotDTO {
	return MetricsSnapshotDTO{
		Methods: MethodCountsDTO{
			Full:   s.Methods.Full,
			ROI:    s.Methods.ROI,
			Motion: s.Methods.Motion,
			Lost:   s.Methods.Lost,
		},
		CaptureLatencyMs: LatencyPercentilesDTO{P50: s.CaptureLatency.P50 * 1000, P90: s.CaptureLatency.P90 * 1000, P95: s.CaptureLatency.P95 * 1000},
		MatchLatencyMs:   LatencyPercentilesDTO{P50: s.MatchLatency.P50 * 1000, P90: s.MatchLatency.P90 * 1000, P95: s.MatchLatency.P95 * 1000},
		TotalLatencyMs:   LatencyPercentilesDTO{P50: s.TotalLatency.P50 * 1000, P90: s.TotalLatency.P90 * 1000, P95: s.TotalLatency.P95 * 1000},
		TargetFPS:             s.TargetFPS,
		Utilization:           s.Utilization,
		FramesProcessed:       s.FramesProcessed,
		TrackerPredictionRate: s.TrackerPredictionRate,
		DuplicatesSkipped:     s.DuplicatesSkipped,
		MapHiddenSkipped:      s.MapHiddenSkipped,
		CascadeLevelHistogram: s.CascadeLevelHistogram,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("transport: failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLatest returns the most recently published viewport, or 404
// before the first publication.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	latest := s.app.GetLatest()
	if latest == nil {
		writeJSONError(w, http.StatusNotFound, "no published viewport yet")
		return
	}
	writeJSON(w, http.StatusOK, toPublishedDTO(latest))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, toMetricsDTO(s.app.GetStats()))
}

// handleWebSocket upgrades the connection and pushes every subsequent
// publication as a JSON text frame until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("transport: websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub := s.app.Subscribe()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case published, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "bus closed")
				return
			}
			data, err := json.Marshal(toPublishedDTO(published))
			if err != nil {
				log.Warn().Err(err).Msg("transport: failed to marshal publication")
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
