//go:build cgo

package mapoverlay

import (
	"hash/maphash"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// CaptureFunc is the host-provided collaborator that yields one screen
// capture and its capture timestamp, per spec.md §6 consumed interfaces.
type CaptureFunc func() (frame gocv.Mat, timestamp time.Time, err error)

// digestStride is the fixed pixel stride sampled for the cheap
// duplicate-frame digest; spec.md §4.G step 2 calls for a "fixed-stride
// subsample," not a full-frame hash.
const digestStride = 16

// FrameProcessorParams configures the per-frame pipeline.
type FrameProcessorParams struct {
	Crop       float64 // top fraction kept, e.g. 0.8
	Visibility VisibilityParams
}

// FrameProcessor runs the per-tick pipeline of spec.md §4.G: capture,
// duplicate detection, visibility gating, and shared preprocessing. It
// is producer-thread-local; no field is shared across threads.
type FrameProcessor struct {
	params FrameProcessorParams
	seed   maphash.Seed

	hasPrevDigest bool
	prevDigest    uint64

	hasPrevTimestamp bool
	prevTimestamp    time.Time

	scratchCrop gocv.Mat
	scratchGray gocv.Mat
	scratchPrep gocv.Mat
}

// NewFrameProcessor constructs a processor with the given parameters.
func NewFrameProcessor(params FrameProcessorParams) *FrameProcessor {
	return &FrameProcessor{
		params:      params,
		seed:        maphash.MakeSeed(),
		scratchCrop: gocv.NewMat(),
		scratchGray: gocv.NewMat(),
		scratchPrep: gocv.NewMat(),
	}
}

// Close releases the processor's scratch matrices.
func (f *FrameProcessor) Close() {
	f.scratchCrop.Close()
	f.scratchGray.Close()
	f.scratchPrep.Close()
}

// ProcessedFrame is what Process returns on a frame that reached the
// end of the pipeline without being skipped.
type ProcessedFrame struct {
	Query     gocv.Mat // grayscale, preprocessed, cropped; owned by caller
	Timestamp time.Time
	WidthSrc  float64
	HeightSrc float64
}

// Process runs the capture function and the pipeline of spec.md §4.G.
// On any skip condition it returns a zero ProcessedFrame and the reason;
// the caller (the Scheduler, via the Matching Coordinator) must not run
// matching in that case.
func (f *FrameProcessor) Process(capture CaptureFunc) (ProcessedFrame, FrameSkipReason, error) {
	frame, ts, err := capture()
	if err != nil {
		return ProcessedFrame{}, SkipCaptureError, err
	}
	defer frame.Close()

	if f.hasPrevTimestamp && !ts.After(f.prevTimestamp) {
		return ProcessedFrame{}, SkipOutOfOrder, nil
	}
	f.prevTimestamp = ts
	f.hasPrevTimestamp = true

	digest := digestFrame(frame, f.seed)
	if f.hasPrevDigest && digest == f.prevDigest {
		return ProcessedFrame{}, SkipDuplicate, nil
	}
	f.prevDigest = digest
	f.hasPrevDigest = true

	return f.processCaptured(frame, ts)
}

// ProcessOnce runs the crop/visibility/preprocess stages of spec.md
// §4.G steps 3-6 against an already-captured frame, skipping the
// duplicate and out-of-order checks of steps 1-2: match_once (spec.md
// §6) is a manual, synchronous request against a single supplied
// frame, not a position in an ordered stream.
func (f *FrameProcessor) ProcessOnce(frame gocv.Mat, timestamp time.Time) (ProcessedFrame, FrameSkipReason, error) {
	return f.processCaptured(frame, timestamp)
}

func (f *FrameProcessor) processCaptured(frame gocv.Mat, ts time.Time) (ProcessedFrame, FrameSkipReason, error) {
	widthSrc := float64(frame.Cols())
	heightSrc := float64(frame.Rows())
	cropHeight := int(heightSrc * f.params.Crop)
	f.scratchCrop.Close()
	f.scratchCrop = frame.Region(cropRect(frame.Cols(), cropHeight))

	if !IsMapVisible(grayForVisibility(f.scratchCrop, &f.scratchGray), f.params.Visibility) {
		return ProcessedFrame{}, SkipMapHidden, nil
	}

	ToGray(f.scratchCrop, &f.scratchGray)
	Preprocess(f.scratchGray, &f.scratchPrep)

	out := gocv.NewMat()
	f.scratchPrep.CopyTo(&out)

	return ProcessedFrame{
		Query:     out,
		Timestamp: ts,
		WidthSrc:  widthSrc,
		HeightSrc: float64(cropHeight),
	}, SkipNone, nil
}

func grayForVisibility(cropped gocv.Mat, scratch *gocv.Mat) gocv.Mat {
	ToGray(cropped, scratch)
	return *scratch
}

func cropRect(width, cropHeight int) image.Rectangle {
	return image.Rect(0, 0, width, cropHeight)
}

// digestFrame hashes a fixed-stride subsample of pixels rather than the
// whole frame; adequate for exact-duplicate detection (spec.md §4.G
// step 2), not a perceptual hash.
func digestFrame(frame gocv.Mat, seed maphash.Seed) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)

	data := frame.ToBytes()
	for i := 0; i < len(data); i += digestStride {
		h.WriteByte(data[i])
	}
	return h.Sum64()
}
