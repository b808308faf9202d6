package fake

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/vision/fiducial"
)

type staticPose spatialmath.Pose2D

func (p staticPose) Pose() spatialmath.Pose2D {
	return spatialmath.Pose2D(p)
}

func testMarkers() fiducial.MarkerMap {
	return fiducial.NewMarkerMap(map[int]spatialmath.Pose{
		1: spatialmath.NewPoseFromRPY(r3.Vector{X: 5, Z: 0.5}, 0, 0, math.Pi),
		2: spatialmath.NewPoseFromRPY(r3.Vector{X: -5, Z: 0.5}, 0, 0, 0),
	})
}

func testConfig() Config {
	return Config{Name: "front", FPS: 50, Latency: 40 * time.Millisecond, FOVDegs: 70, MaxRange: 4}
}

func TestConfigValidate(t *testing.T) {
	conf := testConfig()
	test.That(t, conf.Validate("cam"), test.ShouldBeNil)

	for _, mutate := range []func(*Config){
		func(c *Config) { c.Name = "" },
		func(c *Config) { c.FPS = 0 },
		func(c *Config) { c.Latency = -time.Second },
		func(c *Config) { c.FOVDegs = 400 },
		func(c *Config) { c.MaxRange = 0 },
		func(c *Config) { c.NoiseStdDev = -1 },
	} {
		bad := testConfig()
		mutate(&bad)
		test.That(t, bad.Validate("cam"), test.ShouldNotBeNil)
	}
}

func TestObserve(t *testing.T) {
	logger := logging.NewTestLogger(t)
	offset := fiducial.NewCameraOffset(0.2, 0, 0.3, 0, 0, 0)
	cam, err := NewCamera(testConfig(), testMarkers(), offset, staticPose{X: 2}, clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)
	defer cam.Close(context.Background())

	frame := cam.Observe(spatialmath.NewPose2D(2, 0, 0))
	test.That(t, len(frame.Detections), test.ShouldEqual, 1)
	det := frame.Detections[0]
	test.That(t, det.MarkerID, test.ShouldEqual, 1)
	test.That(t, det.CameraToMarker.Point().X, test.ShouldAlmostEqual, 2.8)
	test.That(t, det.CameraToMarker.Point().Z, test.ShouldAlmostEqual, 0.2)

	// the extractor recovers the pose the frame was observed from
	cand, ok := fiducial.NewExtractor("front", nil).Extract(frame, testMarkers(), offset, fiducial.DefaultThresholds())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cand.Pose.AlmostEqual(spatialmath.NewPose2D(2, 0, 0), 1e-9), test.ShouldBeTrue)

	t.Run("field of view", func(t *testing.T) {
		frame := cam.Observe(spatialmath.NewPose2D(2, 0, math.Pi/2))
		test.That(t, frame.Detections, test.ShouldBeEmpty)
	})

	t.Run("range", func(t *testing.T) {
		frame := cam.Observe(spatialmath.NewPose2D(0, 0, 0))
		test.That(t, frame.Detections, test.ShouldBeEmpty)
	})

	t.Run("facing the other marker", func(t *testing.T) {
		frame := cam.Observe(spatialmath.NewPose2D(-2.5, 0.5, math.Pi))
		test.That(t, len(frame.Detections), test.ShouldEqual, 1)
		test.That(t, frame.Detections[0].MarkerID, test.ShouldEqual, 2)
	})
}

func TestAcquisitionLatency(t *testing.T) {
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	start := clk.Now()
	cam, err := NewCamera(testConfig(), testMarkers(), spatialmath.NewZeroPose(), staticPose{X: 2}, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	defer cam.Close(context.Background())
	test.That(t, cam.Name(), test.ShouldEqual, "front")

	ctx := context.Background()
	step := func(n int64) {
		clk.Add(20 * time.Millisecond)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, cam.Captured(), test.ShouldEqual, n)
		})
	}

	step(1)
	_, ok, err := cam.LatestFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	step(2)
	_, ok, err = cam.LatestFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	step(3)
	var frame fiducial.Frame
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		var ok bool
		frame, ok, err = cam.LatestFrame(ctx)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, ok, test.ShouldBeTrue)
	})
	// published at 60ms, captured at 20ms
	test.That(t, frame.Timestamp, test.ShouldEqual, start.Add(20*time.Millisecond))
	test.That(t, len(frame.Detections), test.ShouldEqual, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = cam.LatestFrame(cancelled)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNoiseIsSeeded(t *testing.T) {
	logger := logging.NewTestLogger(t)
	conf := testConfig()
	conf.NoiseStdDev = 0.05
	conf.Seed = 7

	observe := func() fiducial.Frame {
		cam, err := NewCamera(conf, testMarkers(), spatialmath.NewZeroPose(), staticPose{X: 2}, clock.NewMock(), logger)
		test.That(t, err, test.ShouldBeNil)
		defer cam.Close(context.Background())
		return cam.Observe(spatialmath.NewPose2D(2, 0, 0))
	}
	a, b := observe(), observe()
	test.That(t, a.Detections[0].CameraToMarker.Point(), test.ShouldResemble, b.Detections[0].CameraToMarker.Point())
	test.That(t, a.Detections[0].CameraToMarker.Point().X, test.ShouldNotEqual, 3)
}
