// Package main provides the CLI entrypoint for the map overlay daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/collectoroverlay/mapoverlay/internal/config"
	"github.com/collectoroverlay/mapoverlay/pkg/mapoverlay"
	"github.com/collectoroverlay/mapoverlay/pkg/transport"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	captureDevice := flag.Int("camera", -1, "Capture device ID (overrides config)")
	captureFile := flag.String("file", "", "Replay a recorded video file instead of a live device (overrides config)")
	listenAddr := flag.String("listen", "", "HTTP/WebSocket listen address (overrides config)")
	resetCache := flag.Bool("reset-cache", false, "Discard the on-disk feature pyramid cache and rebuild it")
	preview := flag.Bool("preview", false, "Show a debug preview window with the tracked viewport overlay")
	verbose := flag.Bool("verbose", false, "Enable verbose (debug-level) logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mapoverlayd - viewport localization daemon for large reference maps\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # Run with default settings\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config config.toml    # Run with a custom config\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -preview               # Show the debug overlay window\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -file capture.mkv      # Replay a recorded session\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("mapoverlayd version %s\n", version)
		os.Exit(0)
	}

	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	if *captureDevice >= 0 {
		cfg.Capture.DeviceID = *captureDevice
	}
	if *captureFile != "" {
		cfg.Capture.FilePath = *captureFile
	}
	if *listenAddr != "" {
		cfg.Transport.ListenAddr = *listenAddr
	}

	log.Info().
		Str("reference_map", cfg.ReferenceMap.ImagePath).
		Str("listen", cfg.Transport.ListenAddr).
		Msg("starting mapoverlayd")

	var previewFrames chan gocv.Mat
	if *preview {
		previewFrames = make(chan gocv.Mat, 1)
	}

	built, err := buildApplication(cfg, *resetCache, previewFrames)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer built.cleanup()
	app := built.app

	var previewWindow *mapoverlay.PreviewWindow
	if *preview {
		previewWindow = mapoverlay.NewPreviewWindow("mapoverlay preview")
		defer previewWindow.Close()
		log.Info().Msg("preview window enabled")
	}

	if err := app.Start(); err != nil {
		log.Fatal().Err(err).Msg("starting application")
	}
	log.Info().Msg("tracking started")

	ctx, cancel := context.WithCancel(context.Background())
	srv := transport.NewServer(cfg.Transport.ListenAddr, app)
	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if previewWindow != nil {
		runPreviewLoop(sigCh, app, previewWindow, previewFrames, built.transform, built.crop, built.wSrc, built.hSrc)
	} else {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	}

	cancel()
	<-serverDone

	if err := app.Stop(); err != nil {
		log.Warn().Err(err).Msg("stopping application")
	}
}

// runPreviewLoop feeds the debug preview window with the most recently
// tapped capture frame and the most recent publication until a
// shutdown signal arrives. Frames and publications arrive on
// independent channels and are not a priori synchronized; a frame is
// paired with whichever publication follows it, which is close enough
// for a debug overlay.
func runPreviewLoop(sigCh <-chan os.Signal, app *mapoverlay.Application, preview *mapoverlay.PreviewWindow, frames <-chan gocv.Mat, transform *mapoverlay.CoordTransform, crop, wSrc, hSrc float64) {
	published := app.Subscribe()

	var latest gocv.Mat
	haveFrame := false
	defer func() {
		if haveFrame {
			latest.Close()
		}
	}()

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			return

		case f := <-frames:
			if haveFrame {
				latest.Close()
			}
			latest, haveFrame = f, true

		case p := <-published:
			if !haveFrame {
				continue
			}
			rect := transform.DetViewportToScreen(p.Viewport, crop, wSrc, hSrc)
			preview.Show(latest, rect, p.CollectiblesInView, p.Method, p.Confidence, true)
		}
	}
}

// applicationResources bundles the components that an Application does
// not take ownership of, so buildApplication has one place to release
// them both on error and during normal shutdown. Application.Close
// already releases the frame processor, coordinator (and through it
// the translation tracker), and bus; the cascade's matcher and pyramid
// and the capture source are not reachable from the coordinator and
// must be released here instead.
type applicationResources struct {
	detMap  gocv.Mat
	pyramid *mapoverlay.FeaturePyramid
	matcher *mapoverlay.SimpleMatcher
	capture *mapoverlay.VideoCaptureSource
}

func (r *applicationResources) Close() {
	if r.capture != nil {
		r.capture.Close()
	}
	if r.matcher != nil {
		r.matcher.Close()
	}
	if r.pyramid != nil {
		r.pyramid.Close()
	}
	if !r.detMap.Empty() {
		r.detMap.Close()
	}
}

// builtApp bundles the constructed Application with the pieces main
// needs afterward: the cleanup func, and (when preview is enabled) the
// coordinate transform and source resolution needed to project a
// published detection-space viewport onto the tapped capture frame.
type builtApp struct {
	app        *mapoverlay.Application
	transform  *mapoverlay.CoordTransform
	crop       float64
	wSrc, hSrc float64
	cleanup    func()
}

// buildApplication performs every startup step that can fail fatally
// per spec.md §7 (missing reference map, bad calibration, cache
// corruption handled internally) and wires the result into an
// Application. The returned cleanup func releases every native
// resource even if app.Close was never reached. When previewFrames is
// non-nil, every frame read by the Application's capture source is
// also cloned onto that channel for the debug preview window.
func buildApplication(cfg *config.Config, resetCache bool, previewFrames chan gocv.Mat) (*builtApp, error) {
	res := &applicationResources{}
	cleanup := func() { res.Close() }

	refImg := gocv.IMRead(cfg.ReferenceMap.ImagePath, gocv.IMReadColor)
	if refImg.Empty() {
		return nil, fmt.Errorf("reading reference map %q: image is empty or unreadable", cfg.ReferenceMap.ImagePath)
	}
	defer refImg.Close()

	wRef := float64(refImg.Cols())
	hRef := float64(refImg.Rows())

	refGray := gocv.NewMat()
	mapoverlay.ToGray(refImg, &refGray)
	defer refGray.Close()

	mapoverlay.ResizeArea(refGray, &res.detMap, mapoverlay.DetectionScale)
	refHash := mapoverlay.ContentHash(res.detMap)

	if resetCache {
		_ = os.Remove(cfg.Pyramid.CachePath)
	}

	pyramid, err := mapoverlay.LoadFeaturePyramid(cfg.Pyramid.CachePath, refHash)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("loading pyramid cache: %w", err)
	}
	if pyramid == nil {
		specs := make([]mapoverlay.PyramidLevelSpec, len(cfg.Pyramid.Levels))
		for i, lvl := range cfg.Pyramid.Levels {
			specs[i] = mapoverlay.PyramidLevelSpec{Scale: lvl.Scale, Name: lvl.Name, Budget: lvl.Budget}
		}

		pyramid, err = mapoverlay.BuildFeaturePyramid(res.detMap, refHash, specs)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("building feature pyramid: %w", err)
		}
		if err := pyramid.Save(cfg.Pyramid.CachePath); err != nil {
			log.Warn().Err(err).Msg("failed to persist pyramid cache, continuing without it")
		}
	}
	res.pyramid = pyramid

	cascadeLevels := make([]mapoverlay.CascadeLevel, len(cfg.CascadeLevels))
	for i, lvl := range cfg.CascadeLevels {
		scale, budget := 1.0, 0
		for _, p := range cfg.Pyramid.Levels {
			if p.Name == lvl.Name {
				scale, budget = p.Scale, p.Budget
				break
			}
		}
		cascadeLevels[i] = mapoverlay.CascadeLevel{
			Scale:         scale,
			Name:          lvl.Name,
			Budget:        budget,
			ConfThreshold: lvl.ConfThreshold,
			MinInliers:    lvl.MinInliers,
		}
	}

	matcherParams := mapoverlay.MatcherParams{
		QueryBudget:      cfg.Matcher.QueryBudget,
		GridSize:         cfg.Matcher.GridSize,
		RatioThreshold:   cfg.Matcher.RatioThreshold,
		RansacThreshold:  cfg.Matcher.RansacThreshold,
		RansacIterations: cfg.Matcher.RansacIterations,
		MinInliers:       cfg.Matcher.MinInliers,
		MinInlierRatio:   cfg.Matcher.MinInlierRatio,
		TargetInliers:    cfg.Matcher.TargetInliers,
	}
	res.matcher = mapoverlay.NewSimpleMatcher(matcherParams)
	cascade := mapoverlay.NewCascadeMatcher(res.matcher, res.pyramid, cascadeLevels)

	tracker := mapoverlay.NewTranslationTracker(mapoverlay.TrackerScale)

	wDet, hDet := float64(res.detMap.Cols()), float64(res.detMap.Rows())
	coordinatorParams := mapoverlay.CoordinatorParams{
		TauLast:           cfg.Coordinator.TauLast,
		TauPhase:          cfg.Coordinator.TauPhase,
		TauRoi:            cfg.Coordinator.TauRoi,
		ROIMargin:         cfg.Coordinator.ROIMargin,
		KRevalidate:       cfg.Coordinator.KRevalidate,
		VelocitySmoothing: cfg.Coordinator.VelocitySmoothing,
	}
	coordinator := mapoverlay.NewCoordinator(cascade, tracker, wDet, hDet, coordinatorParams)

	frameProc := mapoverlay.NewFrameProcessor(mapoverlay.FrameProcessorParams{
		Crop:       cfg.Detection.Crop,
		Visibility: mapoverlay.VisibilityParams{MinStdDev: cfg.Detection.MinStdDev, MinMean: cfg.Detection.MinMean},
	})

	calibration, err := loadCalibration(cfg.ReferenceMap.CalibrationPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("loading calibration: %w", err)
	}
	transform, err := mapoverlay.NewCoordTransform(calibration, wRef, hRef)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("fitting coordinate transform: %w", err)
	}

	initial, err := loadCollectibles(cfg.ReferenceMap.CollectiblesPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("loading collectibles: %w", err)
	}
	collectibles := mapoverlay.NewCollectibles(initial)

	scheduler := mapoverlay.NewScheduler(mapoverlay.SchedulerParams{
		WindowSize: cfg.Scheduler.WindowSize,
		AdaptEvery: cfg.Scheduler.AdaptEvery,
		MinFPS:     cfg.Scheduler.MinFPS,
		InitialFPS: cfg.Scheduler.InitialFPS,
	})
	bus := mapoverlay.NewBus()
	metrics := mapoverlay.NewMetrics()

	res.capture = mapoverlay.NewVideoCaptureSource()
	if cfg.Capture.FilePath != "" {
		if err := res.capture.OpenFile(cfg.Capture.FilePath); err != nil {
			cleanup()
			return nil, fmt.Errorf("opening capture file: %w", err)
		}
	} else {
		if err := res.capture.Open(cfg.Capture.DeviceID, cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FPS); err != nil {
			cleanup()
			return nil, fmt.Errorf("opening capture device: %w", err)
		}
	}

	captureFn := res.capture.CaptureFunc()
	if previewFrames != nil {
		raw := captureFn
		captureFn = func() (gocv.Mat, time.Time, error) {
			frame, ts, err := raw()
			if err == nil {
				select {
				case previewFrames <- frame.Clone():
				default:
				}
			}
			return frame, ts, err
		}
	}

	app := mapoverlay.NewApplication(captureFn, frameProc, coordinator, scheduler, bus, metrics, collectibles, transform)

	actualW, actualH := res.capture.ActualResolution()

	return &builtApp{
		app:       app,
		transform: transform,
		crop:      cfg.Detection.Crop,
		wSrc:      float64(actualW),
		hSrc:      float64(actualH),
		cleanup: func() {
			if err := app.Close(); err != nil {
				log.Warn().Err(err).Msg("closing application")
			}
			res.Close()
		},
	}, nil
}

type calibrationFile struct {
	Point []calibrationPointEntry `toml:"point"`
}

type calibrationPointEntry struct {
	Lat  float64 `toml:"lat"`
	Lng  float64 `toml:"lng"`
	RefX float64 `toml:"ref_x"`
	RefY float64 `toml:"ref_y"`
}

// loadCalibration reads the calibration control points used to fit the
// lat/lng-to-pixel coordinate transform.
func loadCalibration(path string) ([]mapoverlay.CalibrationPoint, error) {
	if path == "" {
		return nil, fmt.Errorf("no calibration file configured")
	}

	var file calibrationFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parsing calibration file %q: %w", path, err)
	}

	points := make([]mapoverlay.CalibrationPoint, len(file.Point))
	for i, p := range file.Point {
		points[i] = mapoverlay.CalibrationPoint{Lat: p.Lat, Lng: p.Lng, RefX: p.RefX, RefY: p.RefY}
	}
	return points, nil
}

type collectiblesFile struct {
	Collectible []collectibleEntry `toml:"collectible"`
}

type collectibleEntry struct {
	DetX       float64 `toml:"det_x"`
	DetY       float64 `toml:"det_y"`
	Category   string  `toml:"category"`
	PayloadRef string  `toml:"payload_ref"`
}

// loadCollectibles reads the initial collectible list; an empty path
// starts the daemon with no collectibles rather than failing startup.
func loadCollectibles(path string) ([]mapoverlay.Collectible, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file collectiblesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parsing collectibles file %q: %w", path, err)
	}

	items := make([]mapoverlay.Collectible, len(file.Collectible))
	for i, c := range file.Collectible {
		items[i] = mapoverlay.Collectible{DetX: c.DetX, DetY: c.DetY, Category: c.Category, PayloadRef: c.PayloadRef}
	}
	return items, nil
}
