// Package config provides TOML configuration loading for mapoverlay.
//
// The configuration file supports the following structure:
//
//	[capture]
//	device_id = 0
//	width = 1920
//	height = 1080
//	fps = 30
//
//	[reference_map]
//	image_path = "reference.png"
//	calibration_path = "calibration.toml"
//	collectibles_path = "collectibles.toml"
//
//	[detection]
//	crop = 0.8
//	min_std_dev = 8.0
//	min_mean = 6.0
//
//	[pyramid]
//	cache_path = "pyramid.cache"
//
//	[[pyramid.levels]]
//	name = "coarse"
//	scale = 0.25
//	budget = 150
//
//	[matcher]
//	query_budget = 300
//	grid_size = 50
//	ratio_threshold = 0.75
//	ransac_threshold = 5.0
//	ransac_iterations = 500
//	min_inliers = 8
//	min_inlier_ratio = 0.2
//	target_inliers = 40
//
//	[[cascade_levels]]
//	name = "coarse"
//	conf_threshold = 0.6
//	min_inliers = 10
//
//	[coordinator]
//	tau_last = 0.8
//	tau_phase = 0.9
//	tau_roi = 0.5
//	roi_margin = 1.5
//	k_revalidate = 50
//
//	[scheduler]
//	window_size = 10
//	adapt_every = 3
//	min_fps = 5
//	initial_fps = 5
//
//	[transport]
//	listen_addr = ":8080"
//
// Example usage:
//
//	cfg, err := config.Load("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Reference map: %s\n", cfg.ReferenceMap.ImagePath)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the complete configuration for a mapoverlay deployment.
type Config struct {
	Capture      CaptureConfig      `toml:"capture"`
	ReferenceMap ReferenceMapConfig `toml:"reference_map"`
	Detection    DetectionConfig    `toml:"detection"`
	Pyramid      PyramidConfig      `toml:"pyramid"`
	Matcher      MatcherConfig      `toml:"matcher"`
	CascadeLevels []CascadeLevelConfig `toml:"cascade_levels"`
	Coordinator  CoordinatorConfig  `toml:"coordinator"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Transport    TransportConfig    `toml:"transport"`
}

// CaptureConfig holds screen/video capture settings.
type CaptureConfig struct {
	// DeviceID is the capture device index, ignored if FilePath is set.
	DeviceID int `toml:"device_id"`
	// Width is the requested capture width in pixels.
	Width int `toml:"width"`
	// Height is the requested capture height in pixels.
	Height int `toml:"height"`
	// FPS is the requested capture frame rate.
	FPS int `toml:"fps"`
	// FilePath, if set, replays a recorded video file instead of a live device.
	FilePath string `toml:"file_path"`
}

// ReferenceMapConfig points at the reference map image and its
// calibration control points.
type ReferenceMapConfig struct {
	// ImagePath is the full-resolution reference map used to build the
	// feature pyramid.
	ImagePath string `toml:"image_path"`
	// CalibrationPath is a TOML file listing lat/lng-to-pixel calibration
	// points used to fit the coordinate transform.
	CalibrationPath string `toml:"calibration_path"`
	// CollectiblesPath is a TOML file listing the initial collectible
	// markers; empty means start with an empty list.
	CollectiblesPath string `toml:"collectibles_path"`
}

// DetectionConfig holds the frame-processor pipeline parameters of
// spec.md §4.G.
type DetectionConfig struct {
	// Crop is the top fraction of the capture kept before matching.
	Crop float64 `toml:"crop"`
	// MinStdDev is the map-visibility detector's minimum pixel stddev.
	MinStdDev float64 `toml:"min_std_dev"`
	// MinMean is the map-visibility detector's minimum pixel mean.
	MinMean float64 `toml:"min_mean"`
}

// PyramidConfig configures the feature pyramid cache.
type PyramidConfig struct {
	// CachePath is where the built pyramid is persisted across runs.
	CachePath string `toml:"cache_path"`
	// Levels lists each pyramid level's resize scale, name, and feature budget.
	Levels []PyramidLevelConfig `toml:"levels"`
}

// PyramidLevelConfig is one pyramid level's build parameters.
type PyramidLevelConfig struct {
	Name   string  `toml:"name"`
	Scale  float64 `toml:"scale"`
	Budget int     `toml:"budget"`
}

// MatcherConfig holds the Simple Matcher's tunable parameters.
type MatcherConfig struct {
	QueryBudget      int     `toml:"query_budget"`
	GridSize         int     `toml:"grid_size"`
	RatioThreshold   float64 `toml:"ratio_threshold"`
	RansacThreshold  float64 `toml:"ransac_threshold"`
	RansacIterations int     `toml:"ransac_iterations"`
	MinInliers       int     `toml:"min_inliers"`
	MinInlierRatio   float64 `toml:"min_inlier_ratio"`
	TargetInliers    int     `toml:"target_inliers"`
}

// CascadeLevelConfig binds a pyramid level's name to its acceptance
// threshold within the cascade.
type CascadeLevelConfig struct {
	Name          string  `toml:"name"`
	ConfThreshold float64 `toml:"conf_threshold"`
	MinInliers    int     `toml:"min_inliers"`
}

// CoordinatorConfig holds the Matching Coordinator's policy thresholds
// of spec.md §4.F.
type CoordinatorConfig struct {
	TauLast           float64 `toml:"tau_last"`
	TauPhase          float64 `toml:"tau_phase"`
	TauRoi            float64 `toml:"tau_roi"`
	ROIMargin         float64 `toml:"roi_margin"`
	KRevalidate       int     `toml:"k_revalidate"`
	VelocitySmoothing float64 `toml:"velocity_smoothing"`
}

// SchedulerConfig holds the adaptive frame-rate scheduler's parameters
// of spec.md §4.H.
type SchedulerConfig struct {
	WindowSize int     `toml:"window_size"`
	AdaptEvery int     `toml:"adapt_every"`
	MinFPS     float64 `toml:"min_fps"`
	InitialFPS float64 `toml:"initial_fps"`
}

// TransportConfig holds the HTTP/WebSocket listen address.
type TransportConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			DeviceID: 0,
			Width:    1920,
			Height:   1080,
			FPS:      30,
		},
		ReferenceMap: ReferenceMapConfig{
			ImagePath:        "reference.png",
			CalibrationPath:  "calibration.toml",
			CollectiblesPath: "collectibles.toml",
		},
		Detection: DetectionConfig{
			Crop:      0.8,
			MinStdDev: 8.0,
			MinMean:   6.0,
		},
		Pyramid: PyramidConfig{
			CachePath: "pyramid.cache",
			Levels: []PyramidLevelConfig{
				{Name: "coarse", Scale: 0.25, Budget: 150},
				{Name: "fine", Scale: 1.0, Budget: 500},
			},
		},
		Matcher: MatcherConfig{
			QueryBudget:      300,
			GridSize:         50,
			RatioThreshold:   0.75,
			RansacThreshold:  5.0,
			RansacIterations: 500,
			MinInliers:       8,
			MinInlierRatio:   0.2,
			TargetInliers:    40,
		},
		CascadeLevels: []CascadeLevelConfig{
			{Name: "coarse", ConfThreshold: 0.6, MinInliers: 10},
			{Name: "fine", ConfThreshold: 0, MinInliers: 0},
		},
		Coordinator: CoordinatorConfig{
			TauLast:           0.8,
			TauPhase:          0.9,
			TauRoi:            0.5,
			ROIMargin:         1.5,
			KRevalidate:       50,
			VelocitySmoothing: 0.5,
		},
		Scheduler: SchedulerConfig{
			WindowSize: 10,
			AdaptEvery: 3,
			MinFPS:     5,
			InitialFPS: 5,
		},
		Transport: TransportConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads and parses a TOML configuration file.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Capture.FilePath == "" {
		if c.Capture.Width <= 0 {
			return fmt.Errorf("capture width must be positive, got %d", c.Capture.Width)
		}
		if c.Capture.Height <= 0 {
			return fmt.Errorf("capture height must be positive, got %d", c.Capture.Height)
		}
	}
	if c.Capture.FPS <= 0 {
		return fmt.Errorf("capture FPS must be positive, got %d", c.Capture.FPS)
	}
	if c.ReferenceMap.ImagePath == "" {
		return fmt.Errorf("reference_map.image_path must be set")
	}
	if c.Detection.Crop <= 0 || c.Detection.Crop > 1 {
		return fmt.Errorf("detection crop must be in (0, 1], got %f", c.Detection.Crop)
	}
	if len(c.Pyramid.Levels) == 0 {
		return fmt.Errorf("pyramid must define at least one level")
	}
	for _, lvl := range c.Pyramid.Levels {
		if lvl.Scale <= 0 {
			return fmt.Errorf("pyramid level %q: scale must be positive, got %f", lvl.Name, lvl.Scale)
		}
		if lvl.Budget <= 0 {
			return fmt.Errorf("pyramid level %q: budget must be positive, got %d", lvl.Name, lvl.Budget)
		}
	}
	if len(c.CascadeLevels) == 0 {
		return fmt.Errorf("at least one cascade level must be configured")
	}
	for _, lvl := range c.CascadeLevels {
		found := false
		for _, p := range c.Pyramid.Levels {
			if p.Name == lvl.Name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("cascade level %q has no matching pyramid level", lvl.Name)
		}
	}
	if c.Matcher.RatioThreshold <= 0 || c.Matcher.RatioThreshold >= 1 {
		return fmt.Errorf("matcher ratio_threshold must be in (0, 1), got %f", c.Matcher.RatioThreshold)
	}
	if c.Matcher.MinInliers <= 0 {
		return fmt.Errorf("matcher min_inliers must be positive, got %d", c.Matcher.MinInliers)
	}
	if c.Coordinator.KRevalidate <= 0 {
		return fmt.Errorf("coordinator k_revalidate must be positive, got %d", c.Coordinator.KRevalidate)
	}
	if c.Scheduler.MinFPS <= 0 {
		return fmt.Errorf("scheduler min_fps must be positive, got %f", c.Scheduler.MinFPS)
	}
	if c.Scheduler.WindowSize <= 0 {
		return fmt.Errorf("scheduler window_size must be positive, got %d", c.Scheduler.WindowSize)
	}
	if c.Scheduler.AdaptEvery <= 0 {
		return fmt.Errorf("scheduler adapt_every must be positive, got %d", c.Scheduler.AdaptEvery)
	}
	if c.Transport.ListenAddr == "" {
		return fmt.Errorf("transport listen_addr must be set")
	}
	return nil
}
