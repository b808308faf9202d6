package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/nar3128/swervepose/estimator"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/vision/fiducial"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "robot.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadDefaults(t *testing.T) {
	cfg, err := FromReader(context.Background(), "", strings.NewReader(`{}`), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(cfg.Drivetrain.Modules), test.ShouldEqual, 4)
	test.That(t, cfg.Estimator, test.ShouldResemble, estimator.DefaultConfig())
	test.That(t, cfg.Loop.Frequency, test.ShouldEqual, 50)
	test.That(t, cfg.Layout, test.ShouldEqual, DefaultLayout)
	test.That(t, len(cfg.Cameras), test.ShouldEqual, 1)
	test.That(t, cfg.Cameras[0].Latency, test.ShouldEqual, 35*time.Millisecond)
	test.That(t, cfg.Level(), test.ShouldEqual, logging.INFO)

	markers, err := cfg.MarkerMap()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, markers.Len(), test.ShouldEqual, 16)
}

func TestRead(t *testing.T) {
	t.Setenv("SWERVE_VALID_DIST", "0.75")
	path := writeConfig(t, `{
		"drivetrain": {
			"modules": [{"x": 0.25, "y": 0.25}, {"x": -0.25, "y": -0.25}],
			"max_speed": 3,
			"field_relative": false
		},
		"estimator": {
			"valid_dist": ${SWERVE_VALID_DIST},
			"override_threshold": 10,
			"buffer_window": "2s",
			"mode": "overwrite",
			"vision_std_devs": [0.5, 0.7]
		},
		"loop": {"frequency": 100},
		"vision": {"ambiguity_threshold": 0.15, "ignored_markers": [3, 4]},
		"markers": [{"id": 1, "x": 5, "z": 0.5, "yaw_degs": 180}],
		"cameras": [
			{"name": "left", "fps": 20, "latency": "50ms", "fov_degs": 60, "max_range": 4,
			 "offset": {"y": 0.2, "yaw_degs": 30}},
			{"name": "right", "fps": 20, "latency": 50000000, "fov_degs": 60, "max_range": 4}
		],
		"start": {"x": 1, "y": 2, "theta_degs": 90},
		"log_level": "debug",
		"wheels": 4
	}`)
	logger, logs := logging.NewObservedTestLogger(t)
	cfg, err := Read(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)

	test.That(t, len(cfg.Drivetrain.Modules), test.ShouldEqual, 2)
	test.That(t, cfg.Drivetrain.MaxSpeed, test.ShouldEqual, 3)
	test.That(t, cfg.Drivetrain.FieldRelative, test.ShouldBeFalse)
	// unset fields keep their defaults
	test.That(t, cfg.Drivetrain.Discretize, test.ShouldBeTrue)

	test.That(t, cfg.Estimator.ValidDist, test.ShouldEqual, 0.75)
	test.That(t, cfg.Estimator.OverrideThreshold, test.ShouldEqual, 10)
	test.That(t, cfg.Estimator.BufferWindow, test.ShouldEqual, 2*time.Second)
	test.That(t, cfg.Estimator.Mode, test.ShouldEqual, estimator.ModeOverwrite)
	test.That(t, cfg.Estimator.VisionStdDevs, test.ShouldResemble, [2]float64{0.5, 0.7})
	test.That(t, cfg.Estimator.StateStdDevs, test.ShouldResemble, [2]float64{0.1, 0.1})

	test.That(t, cfg.Loop.Frequency, test.ShouldEqual, 100)
	test.That(t, cfg.Vision.AmbiguityThreshold, test.ShouldEqual, 0.15)
	test.That(t, cfg.Vision.DistanceThreshold, test.ShouldEqual, fiducial.DefaultDistanceThreshold)
	th := cfg.Vision.Thresholds()
	test.That(t, th.IsIgnored(3), test.ShouldBeTrue)
	test.That(t, th.IsIgnored(1), test.ShouldBeFalse)

	test.That(t, len(cfg.Cameras), test.ShouldEqual, 2)
	test.That(t, cfg.Cameras[0].Name, test.ShouldEqual, "left")
	test.That(t, cfg.Cameras[0].Latency, test.ShouldEqual, 50*time.Millisecond)
	test.That(t, cfg.Cameras[1].Latency, test.ShouldEqual, 50*time.Millisecond)
	test.That(t, cfg.Cameras[0].Offset.Yaw, test.ShouldEqual, 30)
	test.That(t, cfg.Cameras[0].Offset.Pose().Point().Y, test.ShouldAlmostEqual, 0.2)

	loc, err := cfg.Localization()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loc.Markers.IDs(), test.ShouldResemble, []int{1})
	test.That(t, cfg.Start.Theta, test.ShouldEqual, 90)
	test.That(t, cfg.Level(), test.ShouldEqual, logging.DEBUG)

	test.That(t, logs.FilterMessage("ignoring unknown config fields").Len(), test.ShouldEqual, 1)
}

func TestReadErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	_, err := Read(ctx, filepath.Join(t.TempDir(), "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	for _, tc := range []struct {
		name     string
		contents string
		expected string
	}{
		{"not json", `{"loop":`, "cannot parse config"},
		{"wrong type", `{"loop": {"frequency": "fast"}}`, "cannot decode config"},
		{"bad duration", `{"estimator": {"buffer_window": "soon"}}`, "cannot decode config"},
		{"one module", `{"drivetrain": {"modules": [{"x": 1}]}}`, "modules"},
		{"loop too fast", `{"loop": {"frequency": 500}}`, "loop frequency"},
		{"bad mode", `{"estimator": {"mode": "average"}}`, "unknown correction mode"},
		{"bad strategy", `{"vision": {"strategy": "closest"}}`, "closest"},
		{"bad layout", `{"layout": "championship"}`, "unknown marker layout"},
		{"duplicate markers", `{"markers": [{"id": 1}, {"id": 1}]}`, "defined more than once"},
		{"camera missing name", `{"cameras": [{"fps": 30, "fov_degs": 60, "max_range": 4}]}`, "name"},
		{
			"duplicate cameras",
			`{"cameras": [{"name": "a", "fps": 30, "fov_degs": 60, "max_range": 4},
			              {"name": "a", "fps": 30, "fov_degs": 60, "max_range": 4}]}`,
			"duplicate camera names",
		},
		{"bad log level", `{"log_level": "loud"}`, "unknown log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(ctx, "", strings.NewReader(tc.contents), logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expected)
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = FromReader(canceled, "", strings.NewReader(`{}`), logger)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestNoCameras(t *testing.T) {
	cfg, err := FromReader(context.Background(), "", strings.NewReader(`{"cameras": []}`), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Cameras, test.ShouldBeEmpty)
}
