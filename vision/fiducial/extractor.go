package fiducial

import (
	"math"
	"sync"

	"github.com/nar3128/swervepose/logging"
	"github.com/nar3128/swervepose/spatialmath"
)

// UnknownMarkerReporter logs a marker id missing from the marker map the first time it is seen.
// One reporter is shared by every extractor that should report collectively.
type UnknownMarkerReporter struct {
	logger logging.Logger

	mu       sync.Mutex
	reported map[int]struct{}
}

// NewUnknownMarkerReporter returns a reporter that logs to logger.
func NewUnknownMarkerReporter(logger logging.Logger) *UnknownMarkerReporter {
	return &UnknownMarkerReporter{logger: logger, reported: map[int]struct{}{}}
}

// Report records the id and returns true if this is the first time it was reported.
func (r *UnknownMarkerReporter) Report(camera string, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reported[id]; ok {
		return false
	}
	r.reported[id] = struct{}{}
	r.logger.Warnw("detected marker is not in the marker map", "marker_id", id, "camera", camera)
	return true
}

// Reported reports whether id has already been reported.
func (r *UnknownMarkerReporter) Reported(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reported[id]
	return ok
}

// Extractor turns camera frames into candidate robot poses.
type Extractor struct {
	Camera   string
	Strategy Strategy
	reporter *UnknownMarkerReporter
}

// NewExtractor returns an extractor for the named camera. reporter may be shared between
// extractors.
func NewExtractor(camera string, reporter *UnknownMarkerReporter) *Extractor {
	return &Extractor{Camera: camera, Strategy: LowestAmbiguity, reporter: reporter}
}

// Extract filters the frame's detections, picks the best remaining one and recovers the robot
// pose from it. It returns false when nothing survives the filters.
func (e *Extractor) Extract(
	frame Frame,
	markers MarkerMap,
	cameraOffset spatialmath.Pose,
	thresholds Thresholds,
) (Candidate, bool) {
	var (
		best       Detection
		bestPose   spatialmath.Pose
		found      bool
		offsetInvr = cameraOffset.Invert()
	)
	for _, det := range frame.Detections {
		if det.Ambiguity < 0 || det.Ambiguity >= thresholds.Ambiguity {
			continue
		}
		pt := det.CameraToMarker.Point()
		if math.Hypot(pt.X, pt.Y) >= thresholds.Distance {
			continue
		}
		if thresholds.IsIgnored(det.MarkerID) {
			continue
		}
		markerPose, ok := markers.Pose(det.MarkerID)
		if !ok {
			if e.reporter != nil {
				e.reporter.Report(e.Camera, det.MarkerID)
			}
			continue
		}
		if found && det.Ambiguity >= best.Ambiguity {
			continue
		}
		best = det
		bestPose = spatialmath.Compose(spatialmath.Compose(markerPose, det.CameraToMarker.Invert()), offsetInvr)
		found = true
	}
	if !found {
		return Candidate{}, false
	}
	return Candidate{
		Pose:      bestPose.ToPose2D(),
		Pose3D:    bestPose,
		Timestamp: frame.Timestamp,
		MarkerID:  best.MarkerID,
		Ambiguity: best.Ambiguity,
		Camera:    e.Camera,
	}, true
}
