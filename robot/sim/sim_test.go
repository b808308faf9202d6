package sim

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/nar3128/swervepose/config"
	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/vision/fiducial"
)

// The robot starts facing markers 7 and 8 of the offseason layout, about 1.7 m away.
const testConfig = `{
	"estimator": {"mode": "overwrite"},
	"start": {"x": 2, "y": 5.2, "theta_degs": 180}
}`

func newTestRobot(t *testing.T) (*Robot, *clock.Mock) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	cfg, err := config.FromReader(context.Background(), "", strings.NewReader(testConfig), logger)
	test.That(t, err, test.ShouldBeNil)

	clk := clock.NewMock()
	r, err := New(context.Background(), cfg, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Start(), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
	})
	return r, clk
}

// advance runs n control cycles.
func advance(t *testing.T, r *Robot, clk *clock.Mock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		want := r.Cycles() + 1
		clk.Add(20 * time.Millisecond)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, r.Cycles(), test.ShouldEqual, want)
		})
	}
}

func TestStartsAtConfiguredPose(t *testing.T) {
	r, clk := newTestRobot(t)
	start := spatialmath.NewPose2D(2, 5.2, math.Pi)
	test.That(t, r.Pose().AlmostEqual(start, 1e-9), test.ShouldBeTrue)
	test.That(t, r.Truth().AlmostEqual(start, 1e-9), test.ShouldBeTrue)
	test.That(t, len(r.Registry().Handles()), test.ShouldEqual, 1)

	advance(t, r, clk, 10)
	test.That(t, r.Pose().AlmostEqual(start, 1e-6), test.ShouldBeTrue)
	test.That(t, r.Summary().Accepted, test.ShouldBeGreaterThan, 0)
}

func TestVisionCorrectsBump(t *testing.T) {
	r, clk := newTestRobot(t)
	ctx := context.Background()
	advance(t, r, clk, 5)

	bumped := spatialmath.NewPose2D(2.3, 5.2, math.Pi)
	test.That(t, r.Bump(ctx, bumped), test.ShouldBeNil)
	test.That(t, r.Truth().AlmostEqual(bumped, 1e-9), test.ShouldBeTrue)
	// odometry cannot see the bump
	test.That(t, r.Pose().X, test.ShouldAlmostEqual, 2, 1e-6)

	advance(t, r, clk, 25)
	test.That(t, r.Pose().AlmostEqual(bumped, 1e-6), test.ShouldBeTrue)
}

func TestDrivesTowardMarkers(t *testing.T) {
	r, clk := newTestRobot(t)
	r.SetCommand(spatialmath.Twist2D{VX: -0.5})

	// the first cycle commands the modules, the world moves from the second on
	advance(t, r, clk, 25)
	truth := r.Truth()
	test.That(t, truth.X, test.ShouldAlmostEqual, 1.76, 1e-6)
	test.That(t, truth.Y, test.ShouldAlmostEqual, 5.2, 1e-6)
	test.That(t, r.Pose().DistanceTo(truth), test.ShouldBeLessThan, 0.02)

	speed, err := r.Drivetrain().Speed(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, speed, test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestResetOdometry(t *testing.T) {
	r, clk := newTestRobot(t)
	ctx := context.Background()
	advance(t, r, clk, 3)

	target := spatialmath.NewPose2D(1, 1, 0)
	test.That(t, r.ResetOdometry(ctx, target), test.ShouldBeNil)
	test.That(t, r.Pose().AlmostEqual(target, 1e-9), test.ShouldBeTrue)

	// vision still sees the true pose, far from the reset one
	advance(t, r, clk, 10)
	test.That(t, r.Drivetrain().Estimator().DivergenceCount(), test.ShouldBeGreaterThan, 0)
}

func TestApplyVision(t *testing.T) {
	r, clk := newTestRobot(t)
	advance(t, r, clk, 10)
	accepted := r.Summary().Accepted
	test.That(t, accepted, test.ShouldBeGreaterThan, 0)

	// markers 7 and 8 are the only ones in view
	test.That(t, r.ApplyVision(config.VisionConfig{IgnoredMarkers: []int{7, 8}}), test.ShouldBeNil)
	test.That(t, r.Registry().IgnoredMarkers(), test.ShouldResemble, []int{7, 8})
	// let frames already forwarded drain
	advance(t, r, clk, 2)
	accepted = r.Summary().Accepted
	advance(t, r, clk, 10)
	test.That(t, r.Summary().Accepted, test.ShouldEqual, accepted)

	test.That(t, r.ApplyVision(config.VisionConfig{AmbiguityThreshold: 0.5}), test.ShouldBeNil)
	test.That(t, r.Registry().IgnoredMarkers(), test.ShouldBeEmpty)
	test.That(t, r.Registry().Thresholds().Ambiguity, test.ShouldEqual, 0.5)
	test.That(t, r.Registry().Thresholds().Distance, test.ShouldEqual, fiducial.DefaultDistanceThreshold)
}
