// Package config defines the structures to configure a simulated swerve robot: its drivetrain,
// pose estimator, cameras and control loop.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"github.com/nar3128/swervepose/components/camera/fake"
	"github.com/nar3128/swervepose/components/drivetrain"
	"github.com/nar3128/swervepose/control"
	"github.com/nar3128/swervepose/estimator"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/services/localization"
	"github.com/nar3128/swervepose/spatialmath"
	rutils "github.com/nar3128/swervepose/utils"
	"github.com/nar3128/swervepose/vision/fiducial"
)

// DefaultLayout is the marker layout used when none is configured.
const DefaultLayout = "offseason"

// Config describes how to configure a robot.
type Config struct {
	Drivetrain drivetrain.Config  `json:"drivetrain"`
	Estimator  estimator.Config   `json:"estimator"`
	Loop       control.LoopConfig `json:"loop"`
	Vision     VisionConfig       `json:"vision"`
	// Layout names a built-in marker layout. Markers, when set, is used instead.
	Layout   string                  `json:"layout,omitempty"`
	Markers  []fiducial.MarkerConfig `json:"markers,omitempty"`
	Cameras  []CameraConfig          `json:"cameras"`
	Start    StartPose               `json:"start"`
	LogLevel string                  `json:"log_level,omitempty"`

	// ConfigFilePath is the path the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// VisionConfig holds the initial camera registry knobs.
type VisionConfig struct {
	Strategy           fiducial.Strategy `json:"strategy,omitempty"`
	AmbiguityThreshold float64           `json:"ambiguity_threshold,omitempty"`
	DistanceThreshold  float64           `json:"distance_threshold,omitempty"`
	IgnoredMarkers     []int             `json:"ignored_markers,omitempty"`
}

// CameraConfig is a simulated camera and where it is mounted.
type CameraConfig struct {
	fake.Config
	Offset CameraOffset `json:"offset"`
}

// CameraOffset is the camera pose in the robot frame. Angles are degrees.
type CameraOffset struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll_degs"`
	Pitch float64 `json:"pitch_degs"`
	Yaw   float64 `json:"yaw_degs"`
}

// StartPose is where the robot starts on the field.
type StartPose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta_degs"`
}

// Default returns the configuration of a 0.6 meter square robot with one forward camera.
func Default() Config {
	return Config{
		Drivetrain: drivetrain.Config{
			MaxSpeed:      4.5,
			Throttle:      1,
			FieldRelative: true,
			Discretize:    true,
		},
		Estimator: estimator.DefaultConfig(),
		Loop:      control.LoopConfig{Frequency: 50},
		Vision: VisionConfig{
			Strategy:           fiducial.LowestAmbiguity,
			AmbiguityThreshold: fiducial.DefaultAmbiguityThreshold,
			DistanceThreshold:  fiducial.DefaultDistanceThreshold,
		},
		LogLevel: "info",
	}
}

// defaultModules is a square chassis with modules 0.3 m from the center on each axis.
func defaultModules() []drivetrain.ModuleConfig {
	return []drivetrain.ModuleConfig{
		{X: 0.3, Y: 0.3},
		{X: 0.3, Y: -0.3},
		{X: -0.3, Y: 0.3},
		{X: -0.3, Y: -0.3},
	}
}

func defaultCameras() []CameraConfig {
	return []CameraConfig{{
		Config: fake.Config{
			Name:     "front",
			FPS:      30,
			Latency:  35 * time.Millisecond,
			FOVDegs:  70,
			MaxRange: 5,
			Seed:     1,
		},
		Offset: CameraOffset{X: 0.3, Z: 0.25},
	}}
}

// fillLists sets the list fields that decoding left empty.
func (c *Config) fillLists() {
	if len(c.Drivetrain.Modules) == 0 {
		c.Drivetrain.Modules = defaultModules()
	}
	if c.Cameras == nil {
		c.Cameras = defaultCameras()
	}
	if c.Layout == "" && len(c.Markers) == 0 {
		c.Layout = DefaultLayout
	}
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate(path string) error {
	if err := c.Drivetrain.Validate(joinPath(path, "drivetrain")); err != nil {
		return err
	}
	if err := c.Estimator.Validate(joinPath(path, "estimator")); err != nil {
		return err
	}
	if err := c.Loop.Validate(); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "loop"), err)
	}
	if err := c.Vision.Validate(joinPath(path, "vision")); err != nil {
		return err
	}
	if _, err := c.MarkerMap(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	for i, cam := range c.Cameras {
		if err := cam.Validate(joinPath(path, fmt.Sprintf("cameras.%d", i))); err != nil {
			return err
		}
	}
	if dups := lo.FindDuplicates(lo.Map(c.Cameras, func(cam CameraConfig, _ int) string {
		return cam.Name
	})); len(dups) != 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("duplicate camera names %v", dups))
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

// Validate checks the registry knobs.
func (v *VisionConfig) Validate(path string) error {
	if err := v.Strategy.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if v.AmbiguityThreshold < 0 || v.AmbiguityThreshold > 1 {
		return utils.NewConfigValidationError(path, errors.New("ambiguity_threshold must be in [0, 1]"))
	}
	if v.DistanceThreshold < 0 {
		return utils.NewConfigValidationError(path, errors.New("distance_threshold must not be negative"))
	}
	return nil
}

// Thresholds are the initial registry filter knobs.
func (v *VisionConfig) Thresholds() fiducial.Thresholds {
	ignored := make(map[int]struct{}, len(v.IgnoredMarkers))
	for _, id := range v.IgnoredMarkers {
		ignored[id] = struct{}{}
	}
	return fiducial.Thresholds{
		Ambiguity: v.AmbiguityThreshold,
		Distance:  v.DistanceThreshold,
		Ignored:   ignored,
	}
}

// Pose is the camera pose in the robot frame.
func (o CameraOffset) Pose() spatialmath.Pose {
	return fiducial.NewCameraOffset(o.X, o.Y, o.Z,
		rutils.DegToRad(o.Roll), rutils.DegToRad(o.Pitch), rutils.DegToRad(o.Yaw))
}

// MarkerMap resolves the configured marker layout.
func (c *Config) MarkerMap() (fiducial.MarkerMap, error) {
	if len(c.Markers) != 0 {
		return fiducial.NewMarkerMapFromConfig(c.Markers)
	}
	layout := c.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	return fiducial.LayoutByName(layout)
}

// Localization builds the camera registry configuration.
func (c *Config) Localization() (localization.Config, error) {
	markers, err := c.MarkerMap()
	if err != nil {
		return localization.Config{}, err
	}
	return localization.Config{
		Markers:    markers,
		Strategy:   c.Vision.Strategy,
		Thresholds: c.Vision.Thresholds(),
	}, nil
}

// Level is the configured log level, INFO when unset.
func (c *Config) Level() logging.Level {
	if c.LogLevel == "" {
		return logging.INFO
	}
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}
