package fiducial

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
)

// singleMarker is marker 1 at (5, 0, 0.5) facing back toward the origin.
func singleMarker() MarkerMap {
	return NewMarkerMap(map[int]spatialmath.Pose{
		1: spatialmath.NewPoseFromRPY(r3.Vector{X: 5, Z: 0.5}, 0, 0, math.Pi),
		2: spatialmath.NewPoseFromRPY(r3.Vector{X: 0, Y: 5, Z: 0.5}, 0, 0, -math.Pi/2),
	})
}

// detection of marker 1 seen from a robot at (x, 0) with a camera at its center.
func seen(id int, dist, ambiguity float64) Detection {
	return Detection{
		MarkerID:       id,
		CameraToMarker: spatialmath.NewPoseFromRPY(r3.Vector{X: dist, Z: 0.5}, 0, 0, math.Pi),
		Ambiguity:      ambiguity,
	}
}

func TestMarkerMap(t *testing.T) {
	src := map[int]spatialmath.Pose{3: spatialmath.NewZeroPose(), 1: spatialmath.NewZeroPose()}
	m := NewMarkerMap(src)
	delete(src, 3)
	test.That(t, m.Len(), test.ShouldEqual, 2)
	test.That(t, m.IDs(), test.ShouldResemble, []int{1, 3})
	_, ok := m.Pose(7)
	test.That(t, ok, test.ShouldBeFalse)

	layout := OffseasonLayout()
	test.That(t, layout.Len(), test.ShouldEqual, 16)
	p, ok := layout.Pose(7)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Point().X, test.ShouldAlmostEqual, -1.5*0.0254)
	test.That(t, p.ToPose2D().Theta, test.ShouldAlmostEqual, 0)

	_, err := LayoutByName("nope")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewMarkerMapFromConfig([]MarkerConfig{{ID: 1}, {ID: 1}})
	test.That(t, err, test.ShouldNotBeNil)
	cfgMap, err := NewMarkerMapFromConfig([]MarkerConfig{{ID: 4, X: 1, Yaw: 90}})
	test.That(t, err, test.ShouldBeNil)
	p, _ = cfgMap.Pose(4)
	test.That(t, p.ToPose2D().Theta, test.ShouldAlmostEqual, math.Pi/2)
}

func TestExtractPoseRecovery(t *testing.T) {
	e := NewExtractor("front", NewUnknownMarkerReporter(logging.NewTestLogger(t)))
	now := time.Unix(100, 0)

	cand, ok := e.Extract(
		Frame{Timestamp: now, Detections: []Detection{seen(1, 3, 0.05)}},
		singleMarker(), spatialmath.NewZeroPose(), DefaultThresholds(),
	)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cand.Pose.AlmostEqual(spatialmath.NewPose2D(2, 0, 0), 1e-9), test.ShouldBeTrue)
	test.That(t, cand.Timestamp, test.ShouldEqual, now)
	test.That(t, cand.Camera, test.ShouldEqual, "front")
	test.That(t, cand.MarkerID, test.ShouldEqual, 1)

	t.Run("camera offset", func(t *testing.T) {
		// camera mounted 0.2m forward of the robot center
		offset := NewCameraOffset(0.2, 0, 0, 0, 0, 0)
		cand, ok := e.Extract(Frame{Detections: []Detection{seen(1, 3, 0.05)}}, singleMarker(), offset, DefaultThresholds())
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cand.Pose.AlmostEqual(spatialmath.NewPose2D(1.8, 0, 0), 1e-9), test.ShouldBeTrue)
	})

	t.Run("yawed camera", func(t *testing.T) {
		// camera looking left; the marker appears straight ahead of it
		offset := NewCameraOffset(0, 0, 0, 0, 0, math.Pi/2)
		cand, ok := e.Extract(Frame{Detections: []Detection{seen(1, 3, 0.05)}}, singleMarker(), offset, DefaultThresholds())
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cand.Pose.AlmostEqual(spatialmath.NewPose2D(2, 0, -math.Pi/2), 1e-9), test.ShouldBeTrue)
	})
}

func TestExtractFilters(t *testing.T) {
	e := NewExtractor("front", NewUnknownMarkerReporter(logging.NewTestLogger(t)))
	markers := singleMarker()

	for _, tc := range []struct {
		name string
		det  Detection
		thr  Thresholds
	}{
		{"ambiguity at threshold", seen(1, 3, 0.2), DefaultThresholds()},
		{"ambiguity not applicable", seen(1, 3, -1), DefaultThresholds()},
		{"too far", seen(1, 3.5, 0.01), DefaultThresholds()},
		{"ignored", seen(1, 3, 0), Thresholds{Ambiguity: 0.2, Distance: 3.5, Ignored: map[int]struct{}{1: {}}}},
		{"unknown", seen(9, 3, 0), DefaultThresholds()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := e.Extract(Frame{Detections: []Detection{tc.det}}, markers, spatialmath.NewZeroPose(), tc.thr)
			test.That(t, ok, test.ShouldBeFalse)
		})
	}

	_, ok := e.Extract(Frame{}, markers, spatialmath.NewZeroPose(), DefaultThresholds())
	test.That(t, ok, test.ShouldBeFalse)

	// the distance filter is planar; height does not count
	high := Detection{MarkerID: 1, CameraToMarker: spatialmath.NewPoseFromRPY(r3.Vector{X: 3, Z: 3}, 0, 0, math.Pi)}
	_, ok = e.Extract(Frame{Detections: []Detection{high}}, markers, spatialmath.NewZeroPose(), DefaultThresholds())
	test.That(t, ok, test.ShouldBeTrue)
}

func TestExtractSelection(t *testing.T) {
	e := NewExtractor("front", nil)
	markers := singleMarker()
	thr := DefaultThresholds()

	dets := []Detection{seen(1, 3, 0.1), seen(2, 2, 0.05), seen(1, 1, 0.05), seen(9, 1, 0)}
	cand, ok := e.Extract(Frame{Detections: dets}, markers, spatialmath.NewZeroPose(), thr)
	test.That(t, ok, test.ShouldBeTrue)
	// first seen of the tied lowest wins; the unknown marker never does
	test.That(t, cand.MarkerID, test.ShouldEqual, 2)
	test.That(t, cand.Ambiguity, test.ShouldEqual, 0.05)

	// moving a loser does not change the winner
	dets[0] = seen(1, 0.5, 0.1)
	again, ok := e.Extract(Frame{Detections: dets}, markers, spatialmath.NewZeroPose(), thr)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, again.Pose, test.ShouldResemble, cand.Pose)

	// until the winner crosses a filter
	dets[1] = seen(2, 4, 0.05)
	moved, ok := e.Extract(Frame{Detections: dets}, markers, spatialmath.NewZeroPose(), thr)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, moved.MarkerID, test.ShouldEqual, 1)
	test.That(t, moved.Pose.AlmostEqual(spatialmath.NewPose2D(4, 0, 0), 1e-9), test.ShouldBeTrue)
}

func TestUnknownMarkerReportedOnce(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	reporter := NewUnknownMarkerReporter(logger)
	front := NewExtractor("front", reporter)
	back := NewExtractor("back", reporter)

	frame := Frame{Detections: []Detection{seen(42, 1, 0), seen(43, 1, 0)}}
	for i := 0; i < 3; i++ {
		front.Extract(frame, singleMarker(), spatialmath.NewZeroPose(), DefaultThresholds())
		back.Extract(frame, singleMarker(), spatialmath.NewZeroPose(), DefaultThresholds())
	}
	test.That(t, logs.FilterMessage("detected marker is not in the marker map").Len(), test.ShouldEqual, 2)
	test.That(t, reporter.Reported(42), test.ShouldBeTrue)
	test.That(t, reporter.Reported(1), test.ShouldBeFalse)
	test.That(t, reporter.Report("front", 42), test.ShouldBeFalse)
}

func TestStrategyValidate(t *testing.T) {
	test.That(t, LowestAmbiguity.Validate(), test.ShouldBeNil)
	test.That(t, Strategy("closest").Validate(), test.ShouldNotBeNil)
}
