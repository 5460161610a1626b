//go:build cgo

package mapoverlay

import (
	"math"
	"math/rand"
	"time"

	"gocv.io/x/gocv"
)

// MatcherParams configures one run of the Simple Matcher.
type MatcherParams struct {
	QueryBudget      int     // N_query: max keypoints kept on the query image
	GridSize         int     // G: query spatial-distribution grid (GxG)
	RatioThreshold   float64 // tau_ratio, Lowe's ratio test
	RansacThreshold  float64 // tau_ransac, detection-space px
	RansacIterations int
	MinInliers       int // N_min
	MinInlierRatio   float64
	TargetInliers    int // denominator for the confidence formula
}

// DefaultMatcherParams mirrors the nominal values named in spec.md §4.C.
func DefaultMatcherParams() MatcherParams {
	return MatcherParams{
		QueryBudget:      300,
		GridSize:         50,
		RatioThreshold:   0.75,
		RansacThreshold:  5.0,
		RansacIterations: 500,
		MinInliers:       8,
		MinInlierRatio:   0.2,
		TargetInliers:    40,
	}
}

// SimpleMatcher extracts AKAZE features from a query image and matches
// them against one pyramid level, estimating a translation+uniform-scale
// similarity transform with RANSAC.
type SimpleMatcher struct {
	params MatcherParams
	akaze  gocv.AKAZE
	rng    *rand.Rand
}

// NewSimpleMatcher constructs a matcher with the given parameters.
func NewSimpleMatcher(params MatcherParams) *SimpleMatcher {
	return &SimpleMatcher{
		params: params,
		akaze:  gocv.NewAKAZE(),
		rng:    rand.New(rand.NewSource(1)),
	}
}

// Close releases the native AKAZE detector.
func (m *SimpleMatcher) Close() {
	m.akaze.Close()
}

// MatchOutcome is the Simple Matcher's successful result, per spec.md
// §4.C step 5's output contract.
type MatchOutcome struct {
	Viewport   Viewport
	Confidence float64
	Inliers    int
	Matches    int
	ElapsedMs  float64
}

// Match runs the full pipeline of spec.md §4.C against one pyramid
// level. query must already be grayscale and preprocessed identically
// to the pyramid (see Preprocess). queryW/queryH are the query's extent
// in query-image pixels; the solved scale maps them into detection
// space to size the returned viewport. roi, if non-nil, restricts candidate reference
// keypoints to that detection-space rectangle via the level's grid
// index. Returns (nil, reason) on any failure; never panics or errors.
func (m *SimpleMatcher) Match(query gocv.Mat, queryW, queryH float64, level *PyramidLevel, roi *Viewport) (*MatchOutcome, string) {
	start := time.Now()

	queryKpsAll, queryDesc := m.akaze.DetectAndCompute(query, gocv.NewMat())
	defer queryDesc.Close()

	keptIdx := spatialDistributionFilter(queryKpsAll, query.Cols(), query.Rows(), m.params.GridSize, m.params.QueryBudget)
	if len(keptIdx) == 0 {
		return nil, "no_query_keypoints"
	}
	keptQueryKps := make([]gocv.KeyPoint, len(keptIdx))
	for i, idx := range keptIdx {
		keptQueryKps[i] = queryKpsAll[idx]
	}

	candidateIdx := allIndices(len(level.Keypoints))
	if roi != nil {
		candidateIdx = level.Index.QueryROI(roi.X, roi.Y, roi.W, roi.H)
	}
	if len(candidateIdx) == 0 {
		return nil, "empty_roi_candidates"
	}

	refDesc := subsetRows(level.Descriptors, candidateIdx)
	defer refDesc.Close()

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer bf.Close()

	queryDescFiltered := subsetRows(queryDesc, keptIdx)
	matches := bf.KnnMatch(queryDescFiltered, refDesc, 2)
	queryDescFiltered.Close()

	correspondences := applyRatioTest(matches, m.params.RatioThreshold, keptQueryKps, level.Keypoints, candidateIdx)
	if len(correspondences) < 2 {
		return nil, "too_few_matches"
	}

	scale, tx, ty, inlierIdx := ransacSimilarity(correspondences, m.params.RansacThreshold, m.params.RansacIterations, m.rng)
	if len(inlierIdx) == 0 {
		return nil, "ransac_degenerate"
	}
	if len(inlierIdx) < m.params.MinInliers {
		return nil, "below_min_inliers"
	}
	ratio := float64(len(inlierIdx)) / float64(len(correspondences))
	if ratio < m.params.MinInlierRatio {
		return nil, "below_inlier_ratio"
	}

	qcx, qcy := float64(query.Cols())/2, float64(query.Rows())/2
	centerX := scale*qcx + tx
	centerY := scale*qcy + ty

	w := queryW * scale
	h := queryH * scale

	viewport := Viewport{
		X: centerX - w/2,
		Y: centerY - h/2,
		W: w,
		H: h,
	}

	confidence := math.Min(1, float64(len(inlierIdx))/float64(m.params.TargetInliers)) * ratio
	if confidence > 1 {
		confidence = 1
	}

	return &MatchOutcome{
		Viewport:   viewport,
		Confidence: confidence,
		Inliers:    len(inlierIdx),
		Matches:    len(correspondences),
		ElapsedMs:  float64(time.Since(start).Microseconds()) / 1000.0,
	}, ""
}

type correspondence struct {
	qx, qy float64
	rx, ry float64
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// spatialDistributionFilter divides the query image into a GxG grid and
// keeps the original indices of the top ceil(budget/G^2) strongest
// keypoints per cell, per spec.md §4.C step 1. Returning indices (rather
// than copied keypoints) lets the caller subset the matching descriptor
// rows, which AKAZE returns in the same order as the keypoints.
func spatialDistributionFilter(kps []gocv.KeyPoint, width, height, grid, budget int) []int {
	if grid <= 0 {
		grid = 1
	}
	perCell := (budget + grid*grid - 1) / (grid * grid)
	if perCell < 1 {
		perCell = 1
	}

	cellW := float64(width) / float64(grid)
	cellH := float64(height) / float64(grid)
	if cellW <= 0 {
		cellW = 1
	}
	if cellH <= 0 {
		cellH = 1
	}

	cells := make(map[int][]int)
	for i, kp := range kps {
		c := int(kp.X / cellW)
		r := int(kp.Y / cellH)
		if c >= grid {
			c = grid - 1
		}
		if r >= grid {
			r = grid - 1
		}
		key := r*grid + c
		cells[key] = append(cells[key], i)
	}

	var out []int
	for _, cellIdx := range cells {
		if len(cellIdx) > perCell {
			for i := 0; i < perCell; i++ {
				best := i
				for j := i + 1; j < len(cellIdx); j++ {
					if kps[cellIdx[j]].Response > kps[cellIdx[best]].Response {
						best = j
					}
				}
				cellIdx[i], cellIdx[best] = cellIdx[best], cellIdx[i]
			}
			cellIdx = cellIdx[:perCell]
		}
		out = append(out, cellIdx...)
	}
	if len(out) > budget {
		out = out[:budget]
	}
	return out
}

// subsetRows builds a new Mat containing only the given row indices of
// desc, used to restrict BFMatcher candidates to an ROI.
func subsetRows(desc gocv.Mat, idx []int) gocv.Mat {
	out := gocv.NewMatWithSize(len(idx), desc.Cols(), desc.Type())
	for i, rowIdx := range idx {
		row := desc.RowRange(rowIdx, rowIdx+1)
		region := out.RowRange(i, i+1)
		row.CopyTo(&region)
		row.Close()
		region.Close()
	}
	return out
}

// applyRatioTest keeps matches passing Lowe's ratio test and resolves
// them into detection-space correspondences using the candidate index
// mapping (subsetRows row i corresponds to level keypoint candidateIdx[i]).
func applyRatioTest(matches [][]gocv.DMatch, ratioThreshold float64, queryKps, levelKps []gocv.KeyPoint, candidateIdx []int) []correspondence {
	var out []correspondence
	for _, pair := range matches {
		if len(pair) < 2 {
			continue
		}
		best, second := pair[0], pair[1]
		if second.Distance == 0 {
			continue
		}
		if float64(best.Distance) >= ratioThreshold*float64(second.Distance) {
			continue
		}
		if best.QueryIdx < 0 || best.QueryIdx >= len(queryKps) {
			continue
		}
		if best.TrainIdx < 0 || best.TrainIdx >= len(candidateIdx) {
			continue
		}
		q := queryKps[best.QueryIdx]
		r := levelKps[candidateIdx[best.TrainIdx]]
		out = append(out, correspondence{qx: q.X, qy: q.Y, rx: r.X, ry: r.Y})
	}
	return out
}

// ransacSimilarity estimates translation+uniform-scale (no rotation) by
// RANSAC over 2-point minimal samples: scale comes from the ratio of
// pairwise distances, translation from the scale-corrected centroid
// offset, per spec.md §4.C step 4.
func ransacSimilarity(corr []correspondence, threshold float64, iterations int, rng *rand.Rand) (scale, tx, ty float64, inliers []int) {
	if len(corr) < 2 {
		return 0, 0, 0, nil
	}

	var bestInliers []int
	var bestScale, bestTx, bestTy float64

	for iter := 0; iter < iterations; iter++ {
		i, j := rng.Intn(len(corr)), rng.Intn(len(corr))
		if i == j {
			continue
		}
		a, b := corr[i], corr[j]

		qd := math.Hypot(b.qx-a.qx, b.qy-a.qy)
		rd := math.Hypot(b.rx-a.rx, b.ry-a.ry)
		if qd < 1e-6 {
			continue
		}
		s := rd / qd

		qcx, qcy := (a.qx+b.qx)/2, (a.qy+b.qy)/2
		rcx, rcy := (a.rx+b.rx)/2, (a.ry+b.ry)/2
		tX := rcx - s*qcx
		tY := rcy - s*qcy

		var inlierIdx []int
		for k, c := range corr {
			px := s*c.qx + tX
			py := s*c.qy + tY
			if math.Hypot(px-c.rx, py-c.ry) <= threshold {
				inlierIdx = append(inlierIdx, k)
			}
		}

		if len(inlierIdx) > len(bestInliers) {
			bestInliers = inlierIdx
			bestScale, bestTx, bestTy = s, tX, tY
		}
	}

	if len(bestInliers) < 2 {
		return 0, 0, 0, nil
	}

	// Refine scale/translation via least squares over all inliers:
	// minimize sum |s*q_i + t - r_i|^2, which has the closed form
	// t = rc - s*qc, s = sum((q_i-qc).(r_i-rc)) / sum(|q_i-qc|^2).
	var qcx, qcy, rcx, rcy float64
	for _, idx := range bestInliers {
		c := corr[idx]
		qcx += c.qx
		qcy += c.qy
		rcx += c.rx
		rcy += c.ry
	}
	n := float64(len(bestInliers))
	qcx, qcy, rcx, rcy = qcx/n, qcy/n, rcx/n, rcy/n

	var num, den float64
	for _, idx := range bestInliers {
		c := corr[idx]
		dqx, dqy := c.qx-qcx, c.qy-qcy
		drx, dry := c.rx-rcx, c.ry-rcy
		num += dqx*drx + dqy*dry
		den += dqx*dqx + dqy*dqy
	}
	if den < 1e-9 {
		return bestScale, bestTx, bestTy, bestInliers
	}
	refinedScale := num / den
	refinedTx := rcx - refinedScale*qcx
	refinedTy := rcy - refinedScale*qcy

	return refinedScale, refinedTx, refinedTy, bestInliers
}
