//go:build cgo

package mapoverlay

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// PyramidVersion is bumped whenever the on-disk pyramid format or the
// preprocessing pipeline that produced it changes incompatibly.
const PyramidVersion = 1

// PyramidLevelSpec configures one scale level of the feature pyramid.
type PyramidLevelSpec struct {
	Scale   float64
	Name    string
	Budget  int // AKAZE feature cap (N_s)
}

// PyramidLevel holds precomputed AKAZE keypoints and descriptors for one
// scale of the detection map, plus a spatial index for ROI queries.
// Keypoint coordinates are expressed in detection space, per invariant 3.
type PyramidLevel struct {
	Spec        PyramidLevelSpec
	Keypoints   []gocv.KeyPoint
	Descriptors gocv.Mat
	Index       *GridIndex
}

// Close releases the level's native descriptor matrix.
func (l *PyramidLevel) Close() {
	l.Descriptors.Close()
}

// FeaturePyramid is the full set of precomputed levels for the detection
// map, immutable after Build or Load.
type FeaturePyramid struct {
	RefHash string
	Levels  []*PyramidLevel
}

// Close releases every level's native resources.
func (p *FeaturePyramid) Close() {
	for _, l := range p.Levels {
		l.Close()
	}
}

// BuildFeaturePyramid extracts AKAZE keypoints/descriptors for the
// detection map at every configured scale, per spec.md §4.B steps 1-5.
// detMap must already be grayscale.
func BuildFeaturePyramid(detMap gocv.Mat, refHash string, specs []PyramidLevelSpec) (*FeaturePyramid, error) {
	pyramid := &FeaturePyramid{RefHash: refHash}

	for _, spec := range specs {
		level, err := buildLevel(detMap, spec)
		if err != nil {
			pyramid.Close()
			return nil, fmt.Errorf("building pyramid level %q: %w", spec.Name, err)
		}
		pyramid.Levels = append(pyramid.Levels, level)
	}

	return pyramid, nil
}

func buildLevel(detMap gocv.Mat, spec PyramidLevelSpec) (*PyramidLevel, error) {
	scaled := gocv.NewMat()
	defer scaled.Close()
	ResizeArea(detMap, &scaled, spec.Scale)

	prepped := gocv.NewMat()
	defer prepped.Close()
	Preprocess(scaled, &prepped)

	akaze := gocv.NewAKAZE()
	defer akaze.Close()

	kps, desc := akaze.DetectAndCompute(prepped, gocv.NewMat())
	kps = capByResponse(kps, spec.Budget)

	// Rescale keypoint coordinates from the level's scaled image back
	// into detection space (invariant 3: all levels share one
	// coordinate system for matcher outputs).
	xs := make([]float64, len(kps))
	ys := make([]float64, len(kps))
	for i := range kps {
		kps[i].X /= spec.Scale
		kps[i].Y /= spec.Scale
		xs[i] = kps[i].X
		ys[i] = kps[i].Y
	}

	minX, minY, maxX, maxY := boundsOf(xs, ys, float64(detMap.Cols()), float64(detMap.Rows()))
	index := NewGridIndex(xs, ys, minX, minY, maxX, maxY)

	return &PyramidLevel{
		Spec:        spec,
		Keypoints:   kps,
		Descriptors: desc,
		Index:       index,
	}, nil
}

func boundsOf(xs, ys []float64, fallbackW, fallbackH float64) (minX, minY, maxX, maxY float64) {
	if len(xs) == 0 {
		return 0, 0, fallbackW, fallbackH
	}
	minX, maxX = xs[0], xs[0]
	minY, maxY = ys[0], ys[0]
	for i := 1; i < len(xs); i++ {
		if xs[i] < minX {
			minX = xs[i]
		}
		if xs[i] > maxX {
			maxX = xs[i]
		}
		if ys[i] < minY {
			minY = ys[i]
		}
		if ys[i] > maxY {
			maxY = ys[i]
		}
	}
	return minX, minY, maxX, maxY
}

// capByResponse keeps the N strongest keypoints by response score, the
// simplest budget enforcement when no spatial distribution is required
// (the Simple Matcher applies its own grid-based cap on the query side).
func capByResponse(kps []gocv.KeyPoint, n int) []gocv.KeyPoint {
	if n <= 0 || len(kps) <= n {
		return kps
	}
	sorted := make([]gocv.KeyPoint, len(kps))
	copy(sorted, kps)
	// Partial selection sort down to n strongest; pyramid budgets (a few
	// thousand at most) make this cheap enough to avoid pulling in a
	// sort-with-index helper for a one-shot build-time step.
	for i := 0; i < n; i++ {
		best := i
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Response > sorted[best].Response {
				best = j
			}
		}
		sorted[i], sorted[best] = sorted[best], sorted[i]
	}
	return sorted[:n]
}

// ContentHash computes the reference-image hash used as half of the
// pyramid cache key, per spec.md §4.B.
func ContentHash(img gocv.Mat) string {
	sum := sha256.Sum256(img.ToBytes())
	return fmt.Sprintf("%x", sum)
}

// storedLevel is the gob-serializable form of a PyramidLevel: gocv.Mat
// and gocv.KeyPoint hold C-side state that cannot be gob-encoded
// directly, so keypoints and descriptor bytes are flattened here.
type storedLevel struct {
	Spec        PyramidLevelSpec
	Keypoints   []storedKeypoint
	DescRows    int
	DescCols    int
	DescType    int
	DescData    []byte
}

type storedKeypoint struct {
	X, Y             float64
	Size, Angle      float32
	Response         float32
	Octave, ClassID  int
}

type storedPyramid struct {
	Version int
	RefHash string
	Levels  []storedLevel
}

// Save serializes the pyramid to path via encoding/gob, keyed implicitly
// by p.RefHash and PyramidVersion (checked on Load).
func (p *FeaturePyramid) Save(path string) error {
	sp := storedPyramid{Version: PyramidVersion, RefHash: p.RefHash}

	for _, level := range p.Levels {
		sl := storedLevel{
			Spec:     level.Spec,
			DescRows: level.Descriptors.Rows(),
			DescCols: level.Descriptors.Cols(),
			DescType: int(level.Descriptors.Type()),
			DescData: level.Descriptors.ToBytes(),
		}
		for _, kp := range level.Keypoints {
			sl.Keypoints = append(sl.Keypoints, storedKeypoint{
				X: kp.X, Y: kp.Y,
				Size: kp.Size, Angle: kp.Angle, Response: kp.Response,
				Octave: kp.Octave, ClassID: kp.ClassID,
			})
		}
		sp.Levels = append(sp.Levels, sl)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sp); err != nil {
		return fmt.Errorf("encoding pyramid: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing pyramid cache %s: %w", path, err)
	}
	return nil
}

// LoadFeaturePyramid loads a pyramid from path if its stored version and
// ref hash match; a mismatch or decode failure is treated as a cache
// miss (spec.md §4.B: "a corrupted cache file is discarded and
// rebuilt"), signaled by a nil pyramid and nil error.
func LoadFeaturePyramid(path, refHash string) (*FeaturePyramid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pyramid cache %s: %w", path, err)
	}

	var sp storedPyramid
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sp); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("pyramid cache corrupted, will rebuild")
		return nil, nil
	}

	if sp.Version != PyramidVersion || sp.RefHash != refHash {
		log.Info().Str("path", path).Msg("pyramid cache key mismatch, will rebuild")
		return nil, nil
	}

	pyramid := &FeaturePyramid{RefHash: sp.RefHash}
	for _, sl := range sp.Levels {
		kps := make([]gocv.KeyPoint, len(sl.Keypoints))
		xs := make([]float64, len(sl.Keypoints))
		ys := make([]float64, len(sl.Keypoints))
		for i, skp := range sl.Keypoints {
			kps[i] = gocv.KeyPoint{
				X: skp.X, Y: skp.Y,
				Size: skp.Size, Angle: skp.Angle, Response: skp.Response,
				Octave: skp.Octave, ClassID: skp.ClassID,
			}
			xs[i], ys[i] = skp.X, skp.Y
		}

		desc, err := gocv.NewMatFromBytes(sl.DescRows, sl.DescCols, gocv.MatType(sl.DescType), sl.DescData)
		if err != nil {
			pyramid.Close()
			log.Warn().Err(err).Str("path", path).Str("level", sl.Spec.Name).Msg("pyramid cache descriptors corrupted, will rebuild")
			return nil, nil
		}

		minX, minY, maxX, maxY := boundsOf(xs, ys, 1, 1)
		pyramid.Levels = append(pyramid.Levels, &PyramidLevel{
			Spec:        sl.Spec,
			Keypoints:   kps,
			Descriptors: desc,
			Index:       NewGridIndex(xs, ys, minX, minY, maxX, maxY),
		})
	}

	return pyramid, nil
}
